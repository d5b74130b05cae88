// Package seed provides demo data for local development: a pair of
// accounts, a product catalog, a character with references, and an open
// order priced by the line item engine.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/matthewbaird/atelier/internal/marketsrv"
	"github.com/matthewbaird/atelier/pkg/characters"
	"github.com/matthewbaird/atelier/pkg/lineitems"
	"github.com/matthewbaird/atelier/pkg/profiles"
)

// Market populates storage with demo marketplace data. Seeding is
// idempotent: if the demo artist already exists nothing is written.
func Market(ctx context.Context, storage *marketsrv.Storage) error {
	if _, err := storage.UserByUsername(ctx, "Fox"); err == nil {
		log.Println("demo data already seeded, skipping")
		return nil
	} else if !errors.Is(err, marketsrv.ErrNotFound) {
		return fmt.Errorf("checking for demo data: %w", err)
	}

	artist := &profiles.User{
		Username:   "Fox",
		Email:      "fox@example.com",
		ArtistMode: true,
		TaggingOK:  true,
	}
	if err := storage.CreateUser(ctx, artist); err != nil {
		return fmt.Errorf("creating demo artist: %w", err)
	}
	buyer := &profiles.User{
		Username:  "Amber",
		Email:     "amber@example.com",
		TaggingOK: true,
	}
	if err := storage.CreateUser(ctx, buyer); err != nil {
		return fmt.Errorf("creating demo buyer: %w", err)
	}

	profile, err := storage.ArtistProfileFor(ctx, artist.ID)
	if err != nil {
		return fmt.Errorf("loading demo artist profile: %w", err)
	}
	profile.MaxLoad = 5
	profile.CommissionInfo = "Character art, full color. No mecha."
	if err := storage.UpdateArtistProfile(ctx, artist.ID, profile); err != nil {
		return fmt.Errorf("updating demo artist profile: %w", err)
	}

	products := []profiles.Product{
		{Name: "Sketch", BasePrice: "25.00", Revisions: 1, DaysTurn: 3, Available: true, Escrow: true},
		{Name: "Full color illustration", BasePrice: "110.00", Revisions: 3, DaysTurn: 14, Available: true, Escrow: true},
		{Name: "Reference sheet", BasePrice: "180.00", Revisions: 2, DaysTurn: 21, Available: false, Escrow: true},
	}
	for i := range products {
		if err := storage.CreateProduct(ctx, artist.ID, &products[i]); err != nil {
			return fmt.Errorf("creating demo product %q: %w", products[i].Name, err)
		}
	}

	char := &characters.Character{
		Name:        "Kai",
		Description: "A sly fox with an eye for trouble.",
		TaggingOK:   true,
	}
	if err := storage.CreateCharacter(ctx, artist.ID, char); err != nil {
		return fmt.Errorf("creating demo character: %w", err)
	}
	attrs := []characters.Attribute{
		{Key: "species", Value: "fox", Sticky: true},
		{Key: "sex", Value: "male", Sticky: true},
		{Key: "demeanor", Value: "sly"},
	}
	for i := range attrs {
		if err := storage.AddAttribute(ctx, char.ID, &attrs[i]); err != nil {
			return fmt.Errorf("creating demo attribute %q: %w", attrs[i].Key, err)
		}
	}
	colors := []characters.Color{
		{Note: "fur", Color: "#c35b1e"},
		{Note: "eyes", Color: "#2a6b3f"},
	}
	for i := range colors {
		if err := storage.AddColor(ctx, char.ID, &colors[i]); err != nil {
			return fmt.Errorf("creating demo color %q: %w", colors[i].Note, err)
		}
	}
	if err := storage.AddShare(ctx, char.ID, buyer.ID); err != nil {
		return fmt.Errorf("sharing demo character: %w", err)
	}

	sketch := products[0]
	order := &marketsrv.Order{
		BuyerID:   buyer.ID,
		SellerID:  artist.ID,
		ProductID: &sketch.ID,
		Status:    "new",
	}
	if err := storage.CreateOrder(ctx, order); err != nil {
		return fmt.Errorf("creating demo order: %w", err)
	}
	lines := []marketsrv.OrderLineItem{
		{LineItem: lineitems.LineItem{
			Kind:   lineitems.BasePrice,
			Amount: sketch.BasePrice,
		}},
		{LineItem: lineitems.LineItem{
			Kind:     lineitems.AddOn,
			Priority: 100, CascadeUnder: 100,
			Amount:      "10.00",
			Description: "Extra character",
		}},
		{LineItem: lineitems.LineItem{
			Kind:     lineitems.Shield,
			Priority: 300, CascadeUnder: 300,
			Amount: "0.50", Percentage: "4",
			CascadeAmount: true, CascadePercentage: true,
		}},
	}
	for i := range lines {
		if err := storage.AddLineItem(ctx, order.ID, &lines[i]); err != nil {
			return fmt.Errorf("creating demo line item: %w", err)
		}
	}

	log.Printf("seeded demo data: artist %q, buyer %q, %d products, character %q, order #%d",
		artist.Username, buyer.Username, len(products), char.Name, order.ID)
	return nil
}
