package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"boxoffice/backend/internal/cache"
	"boxoffice/backend/internal/domain"
	"boxoffice/backend/internal/imaging"
	"boxoffice/backend/internal/store"
)

var (
	// ErrInvalid marks validation failures: the input is corrected and the
	// call retried, nothing was mutated.
	ErrInvalid = errors.New("invalid input")
	// ErrForbidden marks role failures on admin-only operations.
	ErrForbidden = errors.New("admin role required")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo           store.Repository
	seats          cache.SeatCache
	seatTTL        time.Duration
	seatsPerShow   int
	privilegedRole string

	returns *returnRegistry
}

func New(repo store.Repository, seats cache.SeatCache, seatsPerShow int, privilegedRole string) *Service {
	if seats == nil {
		seats = cache.NoopSeatCache{}
	}
	if seatsPerShow < 1 {
		seatsPerShow = 20
	}
	if privilegedRole == "" {
		privilegedRole = domain.RoleAdmin
	}

	return &Service{
		repo:           repo,
		seats:          seats,
		seatTTL:        30 * time.Second,
		seatsPerShow:   seatsPerShow,
		privilegedRole: privilegedRole,
		returns:        newReturnRegistry(),
	}
}

func (s *Service) SeatsPerShow() int {
	return s.seatsPerShow
}

// ---- Catalog ----

func (s *Service) CreateFilm(ctx context.Context, req domain.FilmCreateRequest) (domain.Film, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Film{}, err
	}
	film, err := validateFilm(req.Name, req.Year, req.DurationMin, req.Description)
	if err != nil {
		return domain.Film{}, err
	}
	if len(req.Poster) == 0 {
		return domain.Film{}, fmt.Errorf("%w: poster image is required", ErrInvalid)
	}
	if !imaging.IsImage(req.Poster) {
		return domain.Film{}, fmt.Errorf("%w: file must be an image", ErrInvalid)
	}
	poster, err := imaging.Thumbnail(req.Poster)
	if err != nil {
		return domain.Film{}, fmt.Errorf("%w: file must be an image", ErrInvalid)
	}
	film.Poster = poster

	created, err := s.repo.CreateFilm(ctx, film)
	if err != nil {
		return domain.Film{}, err
	}
	s.logAudit(ctx, "film_create", "film", created.ID, fmt.Sprintf("name=%s year=%d", created.Name, created.Year))
	return *created, nil
}

func (s *Service) GetFilm(ctx context.Context, id int64) (domain.Film, error) {
	film, err := s.repo.GetFilm(ctx, id)
	if err != nil {
		return domain.Film{}, err
	}
	return *film, nil
}

func (s *Service) ListFilms(ctx context.Context, nameFilter string) ([]domain.Film, error) {
	return s.repo.ListFilms(ctx, nameFilter)
}

func (s *Service) UpdateFilm(ctx context.Context, id int64, req domain.FilmUpdateRequest) (domain.Film, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Film{}, err
	}

	existing, err := s.repo.GetFilm(ctx, id)
	if err != nil {
		return domain.Film{}, err
	}

	updated := *existing
	if req.Name != nil {
		updated.Name = *req.Name
	}
	if req.Year != nil {
		updated.Year = *req.Year
	}
	if req.DurationMin != nil {
		updated.DurationMin = *req.DurationMin
	}
	if req.Description != nil {
		updated.Description = *req.Description
	}
	validated, err := validateFilm(updated.Name, updated.Year, updated.DurationMin, updated.Description)
	if err != nil {
		return domain.Film{}, err
	}
	validated.ID = updated.ID
	validated.Poster = existing.Poster
	if req.Poster != nil {
		if !imaging.IsImage(req.Poster) {
			return domain.Film{}, fmt.Errorf("%w: file must be an image", ErrInvalid)
		}
		poster, err := imaging.Thumbnail(req.Poster)
		if err != nil {
			return domain.Film{}, fmt.Errorf("%w: file must be an image", ErrInvalid)
		}
		validated.Poster = poster
	}

	saved, err := s.repo.UpdateFilm(ctx, validated)
	if err != nil {
		return domain.Film{}, err
	}
	s.logAudit(ctx, "film_update", "film", saved.ID, fmt.Sprintf("name=%s", saved.Name))
	return *saved, nil
}

func (s *Service) DeleteFilm(ctx context.Context, id int64) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}

	shows, err := s.repo.ListShowsForFilm(ctx, id, "")
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err := s.repo.DeleteFilm(ctx, id); err != nil {
		return err
	}
	for _, show := range shows {
		s.invalidateSeats(ctx, show.ID)
	}
	s.logAudit(ctx, "film_delete", "film", id, fmt.Sprintf("shows_cascaded=%d", len(shows)))
	return nil
}

func (s *Service) CreateShow(ctx context.Context, req domain.ShowCreateRequest) (domain.ShowCreateResponse, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.ShowCreateResponse{}, err
	}
	if req.Price < 0 {
		return domain.ShowCreateResponse{}, fmt.Errorf("%w: price must be a non-negative number", ErrInvalid)
	}
	parsed, err := time.Parse(domain.ShowTimeLayout, req.Time)
	if err != nil {
		return domain.ShowCreateResponse{}, fmt.Errorf("%w: time must look like %s", ErrInvalid, domain.ShowTimeLayout)
	}

	show := domain.Show{FilmID: req.FilmID, Time: parsed.Format(domain.ShowTimeLayout)}
	created, tickets, err := s.repo.CreateShow(ctx, show, s.seatsPerShow, req.Price)
	if err != nil {
		return domain.ShowCreateResponse{}, err
	}
	s.logAudit(ctx, "show_create", "show", created.ID, fmt.Sprintf("time=%s tickets=%d", created.Time, len(tickets)))
	return domain.ShowCreateResponse{ShowID: created.ID, TicketsCreated: len(tickets)}, nil
}

func (s *Service) DeleteShow(ctx context.Context, id int64) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.repo.DeleteShow(ctx, id); err != nil {
		return err
	}
	s.invalidateSeats(ctx, id)
	s.logAudit(ctx, "show_delete", "show", id, "")
	return nil
}

func (s *Service) ListShowsForFilm(ctx context.Context, filmID int64, timeFilter string) ([]domain.Show, error) {
	return s.repo.ListShowsForFilm(ctx, filmID, timeFilter)
}

// ---- Inventory ledger ----

// ShowSeats returns every seat of the show with its sold flag, cached for
// a short TTL so seat-picker repaints do not hammer the store.
func (s *Service) ShowSeats(ctx context.Context, showID int64) ([]domain.SeatView, error) {
	if seats, ok, err := s.seats.Get(ctx, showID); err == nil && ok {
		return seats, nil
	} else if err != nil {
		log.Printf("[service] WARN: seat cache get show=%d: %v", showID, err)
	}

	tickets, err := s.repo.GetShowTickets(ctx, showID)
	if err != nil {
		return nil, err
	}
	sold, err := s.repo.SoldTicketIDs(ctx, showID)
	if err != nil {
		return nil, err
	}

	seats := make([]domain.SeatView, 0, len(tickets))
	for _, t := range tickets {
		seats = append(seats, domain.SeatView{
			TicketID: t.ID,
			Place:    t.Place,
			Price:    t.Price,
			Sold:     sold[t.ID],
		})
	}
	if err := s.seats.Set(ctx, showID, seats, s.seatTTL); err != nil {
		log.Printf("[service] WARN: seat cache set show=%d: %v", showID, err)
	}
	return seats, nil
}

func (s *Service) IsSold(ctx context.Context, ticketID int64) (bool, error) {
	return s.repo.IsTicketSold(ctx, ticketID)
}

// TicketDisplayName is the "film, time, seat" label printed on receipts
// and shown in the return screen.
func (s *Service) TicketDisplayName(ctx context.Context, ticketID int64) (string, error) {
	ticket, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return "", err
	}
	show, err := s.repo.GetShow(ctx, ticket.ShowID)
	if err != nil {
		return "", err
	}
	film, err := s.repo.GetFilm(ctx, show.FilmID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s, %s, seat %d", film.Name, show.Time, ticket.Place+1), nil
}

// ---- Check aggregator ----

// NextCheckID previews the id the next commit will try: one past the
// largest existing check id, or 1 on an empty ledger. Two tills can see
// the same preview; the commit path resolves that by retrying.
func (s *Service) NextCheckID(ctx context.Context) (int64, error) {
	max, err := s.repo.MaxCheckID(ctx)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

const commitRetries = 5

// CommitCheck writes one check and all its sales atomically. A zero
// req.CheckID lets the service allocate and retry on id collisions;
// a caller-chosen id is tried exactly once.
func (s *Service) CommitCheck(ctx context.Context, req domain.CommitCheckRequest) (domain.CommitCheckResponse, error) {
	if len(req.Items) == 0 {
		return domain.CommitCheckResponse{}, store.ErrEmptyCheck
	}
	for _, item := range req.Items {
		if item.Cost < 0 {
			return domain.CommitCheckResponse{}, fmt.Errorf("%w: cost must be a non-negative number", ErrInvalid)
		}
	}

	var committed *domain.Check
	if req.CheckID > 0 {
		check, err := s.repo.CommitCheck(ctx, req.CheckID, req.Items)
		if err != nil {
			return domain.CommitCheckResponse{}, err
		}
		committed = check
	} else {
		for attempt := 0; attempt < commitRetries; attempt++ {
			id, err := s.NextCheckID(ctx)
			if err != nil {
				return domain.CommitCheckResponse{}, err
			}
			check, err := s.repo.CommitCheck(ctx, id, req.Items)
			if errors.Is(err, store.ErrCheckIDTaken) {
				continue
			}
			if err != nil {
				return domain.CommitCheckResponse{}, err
			}
			committed = check
			break
		}
		if committed == nil {
			return domain.CommitCheckResponse{}, store.ErrCheckIDTaken
		}
	}

	s.invalidateSeatsForTickets(ctx, ticketIDs(req.Items))
	s.logAudit(ctx, "check_commit", "check", committed.ID, fmt.Sprintf("sum=%d tickets=%d", committed.Sum, len(req.Items)))
	return domain.CommitCheckResponse{
		CheckID:     committed.ID,
		Sum:         committed.Sum,
		TicketsSold: len(req.Items),
	}, nil
}

func (s *Service) GetCheck(ctx context.Context, id int64) (domain.CheckDetail, error) {
	detail, err := s.repo.GetCheck(ctx, id)
	if err != nil {
		return domain.CheckDetail{}, err
	}
	return *detail, nil
}

func (s *Service) ListChecks(ctx context.Context, limit int) ([]domain.Check, error) {
	return s.repo.ListChecks(ctx, limit)
}

// ReturnSale reverses one sale: the ticket becomes available again and
// the owning check's sum drops by the sale's cost. The check row stays
// even at sum zero.
func (s *Service) ReturnSale(ctx context.Context, saleID int64) error {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return err
	}
	ticket, _ := s.repo.GetTicket(ctx, sale.TicketID)
	if err := s.repo.DeleteSale(ctx, saleID); err != nil {
		return err
	}
	if ticket != nil {
		s.invalidateSeats(ctx, ticket.ShowID)
	}
	s.logAudit(ctx, "sale_return", "sale", saleID, fmt.Sprintf("check=%d cost=%d", sale.CheckID, sale.Cost))
	return nil
}

// ReturnCheck reverses a whole check: the check row and all its sales go,
// every referenced ticket becomes available again.
func (s *Service) ReturnCheck(ctx context.Context, checkID int64) error {
	sales, err := s.repo.ListSalesForCheck(ctx, checkID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteCheck(ctx, checkID); err != nil {
		return err
	}
	s.invalidateSeatsForTickets(ctx, saleTicketIDs(sales))
	s.logAudit(ctx, "check_return", "check", checkID, fmt.Sprintf("sales=%d", len(sales)))
	return nil
}

// BulkReturn applies returns as a best-effort batch: checks are expanded
// into their member sales first so a sale selected alongside its own check
// is never counted twice, and one failed item never aborts its siblings.
func (s *Service) BulkReturn(ctx context.Context, saleIDs []int64, checkIDs []int64) (domain.BulkReturnResult, error) {
	var result domain.BulkReturnResult

	memberSales := make(map[int64]bool)
	validChecks := make([]int64, 0, len(checkIDs))
	seenChecks := make(map[int64]bool, len(checkIDs))
	for _, checkID := range checkIDs {
		if seenChecks[checkID] {
			continue
		}
		seenChecks[checkID] = true
		sales, err := s.repo.ListSalesForCheck(ctx, checkID)
		if err != nil {
			result.Failed++
			continue
		}
		for _, sale := range sales {
			memberSales[sale.ID] = true
		}
		validChecks = append(validChecks, checkID)
	}

	seenSales := make(map[int64]bool, len(saleIDs))
	for _, saleID := range saleIDs {
		if seenSales[saleID] || memberSales[saleID] {
			continue
		}
		seenSales[saleID] = true
		if err := s.ReturnSale(ctx, saleID); err != nil {
			result.Failed++
			continue
		}
		result.SalesReturned++
	}

	for _, checkID := range validChecks {
		if err := s.ReturnCheck(ctx, checkID); err != nil {
			result.Failed++
			continue
		}
		result.ChecksReturned++
	}

	s.logAudit(ctx, "bulk_return", "batch", 0, fmt.Sprintf("checks=%d sales=%d failed=%d", result.ChecksReturned, result.SalesReturned, result.Failed))
	return result, nil
}

// ---- Reporting ----

func (s *Service) SalesReport(ctx context.Context) (domain.SalesReport, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.SalesReport{}, err
	}
	report, err := s.repo.SalesReport(ctx)
	if err != nil {
		return domain.SalesReport{}, err
	}
	return *report, nil
}

// ---- helpers ----

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	return nil
}

func validateFilm(name string, year int, durationMin int, description string) (domain.Film, error) {
	if name == "" {
		return domain.Film{}, fmt.Errorf("%w: film name is required", ErrInvalid)
	}
	if year < 1900 || year > 2022 {
		return domain.Film{}, fmt.Errorf("%w: year must be between 1900 and 2022", ErrInvalid)
	}
	if durationMin < 10 {
		return domain.Film{}, fmt.Errorf("%w: duration must be at least 10 minutes", ErrInvalid)
	}
	if description == "" {
		return domain.Film{}, fmt.Errorf("%w: description is required", ErrInvalid)
	}
	return domain.Film{Name: name, Year: year, DurationMin: durationMin, Description: description}, nil
}

func ticketIDs(items []domain.SaleItem) []int64 {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.TicketID)
	}
	return ids
}

func saleTicketIDs(sales []domain.Sale) []int64 {
	ids := make([]int64, 0, len(sales))
	for _, sale := range sales {
		ids = append(ids, sale.TicketID)
	}
	return ids
}

func (s *Service) invalidateSeats(ctx context.Context, showID int64) {
	if err := s.seats.Invalidate(ctx, showID); err != nil {
		log.Printf("[service] WARN: seat cache invalidate show=%d: %v", showID, err)
	}
}

func (s *Service) invalidateSeatsForTickets(ctx context.Context, ticketIDs []int64) {
	seen := make(map[int64]bool)
	for _, ticketID := range ticketIDs {
		ticket, err := s.repo.GetTicket(ctx, ticketID)
		if err != nil {
			continue
		}
		if seen[ticket.ShowID] {
			continue
		}
		seen[ticket.ShowID] = true
		s.invalidateSeats(ctx, ticket.ShowID)
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID int64, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	log.Printf("[audit] action=%s entity=%s/%d actor=%s role=%s detail=%s", action, entityType, entityID, actor.Username, actor.Role, detail)
}
