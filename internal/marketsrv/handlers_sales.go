package marketsrv

import (
	"net/http"

	"github.com/matthewbaird/atelier/pkg/lineitems"
	"github.com/matthewbaird/atelier/pkg/socket"
)

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var order Order
	if err := decodeJSON(r, &order); err != nil {
		writeDetail(w, http.StatusBadRequest, "Could not decode request body.")
		return
	}
	fields := make(map[string][]string)
	if order.BuyerID == 0 {
		fields["buyer_id"] = append(fields["buyer_id"], "This field is required.")
	}
	if order.SellerID == 0 {
		fields["seller_id"] = append(fields["seller_id"], "This field is required.")
	}
	if len(fields) > 0 {
		writeFieldErrors(w, fields)
		return
	}
	if order.Status == "" {
		order.Status = "new"
	}
	if err := s.storage.CreateOrder(r.Context(), &order); err != nil {
		storageError(w, err)
		return
	}
	if order.ProductID != nil {
		product, err := s.storage.ProductByID(r.Context(), *order.ProductID)
		if err != nil {
			storageError(w, err)
			return
		}
		base := OrderLineItem{
			LineItem: lineitems.LineItem{
				Kind:   lineitems.BasePrice,
				Amount: product.BasePrice,
			},
		}
		if err := s.storage.AddLineItem(r.Context(), order.ID, &base); err != nil {
			storageError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	order, err := s.storage.OrderByID(r.Context(), id)
	if err != nil {
		storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) listLineItems(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	page, size := pageParams(r)
	items, count, err := s.storage.LineItemsFor(r.Context(), id, page, size)
	if err != nil {
		storageError(w, err)
		return
	}
	writePage(w, count, size, items)
}

func (s *Server) addLineItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	order, err := s.storage.OrderByID(r.Context(), id)
	if err != nil {
		storageError(w, err)
		return
	}
	var item OrderLineItem
	if err := decodeJSON(r, &item); err != nil {
		writeDetail(w, http.StatusBadRequest, "Could not decode request body.")
		return
	}
	if item.CascadeUnder > item.Priority {
		writeFieldErrors(w, map[string][]string{
			"cascade_under": {"May not exceed the line's priority."},
		})
		return
	}
	if err := s.storage.AddLineItem(r.Context(), order.ID, &item); err != nil {
		storageError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
	newItems := socket.ListSettings{
		AppLabel:   "sales",
		ModelName:  "LineItem",
		ListName:   "line_items",
		Serializer: "LineItemSerializer",
		PK:         itoa(order.ID),
	}
	s.hub.Broadcast(r.Context(), newItems.NewItemLabel(), item)
}

func (s *Server) deleteLineItem(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}
	if err := s.storage.DeleteLineItem(r.Context(), orderID, itemID); err != nil {
		storageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// invoiceLine is a resolved row of an invoice preview.
type invoiceLine struct {
	ID     int64  `json:"id"`
	Label  string `json:"label"`
	Amount string `json:"amount"`
}

type invoice struct {
	Total    string        `json:"total"`
	RawTotal string        `json:"raw_total"`
	Discount string        `json:"discount"`
	Escrow   bool          `json:"escrow"`
	Lines    []invoiceLine `json:"lines"`
}

// getInvoice runs the price cascade over the order's current line items
// and returns the resolved charge. Escrow engages only when money
// actually moves, so the unclamped total drives that flag.
func (s *Server) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	items, _, err := s.storage.LineItemsFor(r.Context(), id, 1, 0)
	if err != nil {
		storageError(w, err)
		return
	}
	lines := make([]lineitems.LineItem, 0, len(items))
	for _, item := range items {
		lines = append(lines, item.LineItem)
	}
	totals, err := lineitems.GetTotals(lines, 2)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Could not price this order: "+err.Error())
		return
	}
	out := invoice{
		Total:    totals.Total.Text('f'),
		RawTotal: totals.RawTotal.Text('f'),
		Discount: totals.Discount.Text('f'),
		Escrow:   totals.RawTotal.Sign() > 0,
		Lines:    make([]invoiceLine, 0, len(lines)),
	}
	for _, line := range lines {
		value := totals.Subtotals[line.ID]
		out.Lines = append(out.Lines, invoiceLine{
			ID:     line.ID,
			Label:  lineitems.Label(line, value),
			Amount: value.Text('f'),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
