// Package cart is the till-local staging area for tickets picked before
// a check is committed. Nothing here is persisted; the ledger first hears
// about the selection at Commit.
package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"boxoffice/backend/internal/domain"
)

var (
	ErrEmpty       = errors.New("cart is empty")
	ErrAlreadyHeld = errors.New("ticket is already in the cart")
	ErrTicketTaken = errors.New("ticket is already sold")
	ErrNotInCart   = errors.New("ticket is not in the cart")
)

// SoldChecker answers whether a ticket already has a live sale. The cart
// combines that answer with its own contents, so a seat a till is holding
// locally reads as taken on that till even before commit.
type SoldChecker interface {
	IsSold(ctx context.Context, ticketID int64) (bool, error)
}

// Committer turns the staged items into one check.
type Committer interface {
	CommitCheck(ctx context.Context, req domain.CommitCheckRequest) (domain.CommitCheckResponse, error)
}

type Line struct {
	TicketID  int64  `json:"ticket_id"`
	Price     int64  `json:"price"`
	SeatLabel string `json:"seat_label"`
}

type Cart struct {
	mu    sync.Mutex
	lines []Line
	held  map[int64]bool
}

func New() *Cart {
	return &Cart{held: make(map[int64]bool)}
}

// Add stages one ticket after checking it is not sold and not already
// held here. Order of addition is preserved for the receipt.
func (c *Cart) Add(ctx context.Context, checker SoldChecker, ticketID int64, price int64, seatLabel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.held[ticketID] {
		return ErrAlreadyHeld
	}
	sold, err := checker.IsSold(ctx, ticketID)
	if err != nil {
		return fmt.Errorf("check sold state: %w", err)
	}
	if sold {
		return ErrTicketTaken
	}
	c.lines = append(c.lines, Line{TicketID: ticketID, Price: price, SeatLabel: seatLabel})
	c.held[ticketID] = true
	return nil
}

func (c *Cart) Remove(ticketID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.held[ticketID] {
		return ErrNotInCart
	}
	for i, line := range c.lines {
		if line.TicketID == ticketID {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
			break
		}
	}
	delete(c.held, ticketID)
	return nil
}

// Holds reports whether the till itself is holding the ticket.
func (c *Cart) Holds(ticketID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held[ticketID]
}

func (c *Cart) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Line(nil), c.lines...)
}

func (c *Cart) Total() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var total int64
	for _, line := range c.lines {
		total += line.Price
	}
	return total
}

func (c *Cart) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

// Commit hands the staged lines to the aggregator as one check. The cart
// clears only on success; on any failure it is left untouched so the
// operator can drop the conflicting seat and retry.
func (c *Cart) Commit(ctx context.Context, committer Committer) (domain.CommitCheckResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.lines) == 0 {
		return domain.CommitCheckResponse{}, ErrEmpty
	}
	items := make([]domain.SaleItem, 0, len(c.lines))
	for _, line := range c.lines {
		items = append(items, domain.SaleItem{TicketID: line.TicketID, Cost: line.Price})
	}

	resp, err := committer.CommitCheck(ctx, domain.CommitCheckRequest{Items: items})
	if err != nil {
		return domain.CommitCheckResponse{}, err
	}
	c.lines = nil
	c.held = make(map[int64]bool)
	return resp, nil
}
