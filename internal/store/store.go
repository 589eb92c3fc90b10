package store

import (
	"context"
	"errors"

	"boxoffice/backend/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicateName = errors.New("film name already exists")
	ErrTimeConflict  = errors.New("show time already taken")
	ErrTicketSold    = errors.New("ticket already sold")
	ErrCheckIDTaken  = errors.New("check id already taken")
	ErrEmptyCheck    = errors.New("check has no items")
)

// Repository is the single shared ledger store. Implementations must
// enforce ticket exclusivity and cascades themselves; callers never
// check-then-act around them.
type Repository interface {
	CreateFilm(ctx context.Context, film domain.Film) (*domain.Film, error)
	GetFilm(ctx context.Context, id int64) (*domain.Film, error)
	ListFilms(ctx context.Context, nameFilter string) ([]domain.Film, error)
	UpdateFilm(ctx context.Context, film domain.Film) (*domain.Film, error)
	DeleteFilm(ctx context.Context, id int64) error

	// CreateShow inserts the show and its seat tickets in one transaction.
	CreateShow(ctx context.Context, show domain.Show, seats int, price int64) (*domain.Show, []domain.Ticket, error)
	GetShow(ctx context.Context, id int64) (*domain.Show, error)
	ListShowsForFilm(ctx context.Context, filmID int64, timeFilter string) ([]domain.Show, error)
	DeleteShow(ctx context.Context, id int64) error

	GetShowTickets(ctx context.Context, showID int64) ([]domain.Ticket, error)
	GetTicket(ctx context.Context, id int64) (*domain.Ticket, error)
	// SoldTicketIDs reports which of the show's tickets have a live sale.
	SoldTicketIDs(ctx context.Context, showID int64) (map[int64]bool, error)
	IsTicketSold(ctx context.Context, ticketID int64) (bool, error)

	MaxCheckID(ctx context.Context) (int64, error)
	// CommitCheck inserts the check and all its sales atomically. It fails
	// whole with ErrCheckIDTaken on a check id conflict and ErrTicketSold
	// when any item's ticket already has a live sale.
	CommitCheck(ctx context.Context, checkID int64, items []domain.SaleItem) (*domain.Check, error)
	GetCheck(ctx context.Context, id int64) (*domain.CheckDetail, error)
	ListChecks(ctx context.Context, limit int) ([]domain.Check, error)
	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	ListSalesForCheck(ctx context.Context, checkID int64) ([]domain.Sale, error)
	// DeleteSale removes the sale and decrements its check's sum in the
	// same transaction.
	DeleteSale(ctx context.Context, saleID int64) error
	// DeleteCheck removes the check and cascades its sales.
	DeleteCheck(ctx context.Context, checkID int64) error

	SalesReport(ctx context.Context) (*domain.SalesReport, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
