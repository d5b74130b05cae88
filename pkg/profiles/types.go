package profiles

// User is the account payload. Guests are provisional accounts created
// for anonymous commissioners; their usernames carry the guest prefix.
type User struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	Guest      bool   `json:"guest"`
	Email      string `json:"email,omitempty"`
	AvatarURL  string `json:"avatar_url,omitempty"`
	ArtistMode bool   `json:"artist_mode"`
	Landscape  bool   `json:"landscape"`
	Rating     int    `json:"rating"`
	TaggingOK  bool   `json:"taggable"`
}

// ArtistProfile holds the commission-related settings of an account in
// artist mode. Absent for guests and the anonymous user.
type ArtistProfile struct {
	ID                int64  `json:"id"`
	CommissionsClosed bool   `json:"commissions_closed"`
	MaxLoad           int    `json:"max_load"`
	Load              int    `json:"load"`
	AutoWithdraw      bool   `json:"auto_withdraw"`
	PublicQueue       bool   `json:"public_queue"`
	CommissionInfo    string `json:"commission_info"`
}

// Product is a marketplace listing. Prices travel as decimal strings and
// are only ever interpreted by the line-item engine.
type Product struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	BasePrice   string `json:"base_price"`
	Revisions   int    `json:"revisions"`
	DaysTurn    int    `json:"expected_turnaround"`
	Available   bool   `json:"available"`
	MaxParallel int    `json:"max_parallel"`
	Table       bool   `json:"table_product"`
	Escrow      bool   `json:"escrow_enabled"`
}

// AnonymousUser is the username of the signed-out sentinel account.
const AnonymousUser = "_"

// guestPrefix marks provisionally-created guest accounts.
const guestPrefix = "__"
