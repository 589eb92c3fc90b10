package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"boxoffice/backend/internal/domain"
	"boxoffice/backend/internal/store"
)

// Store is the in-memory ledger backend. One mutex serializes every
// operation, so the constraints the postgres schema enforces declaratively
// (unique film name, unique show time, sale.ticket_id uniqueness, cascades)
// are enforced here by explicit checks inside the critical section.
type Store struct {
	mu              sync.RWMutex
	films           map[int64]domain.Film
	shows           map[int64]domain.Show
	tickets         map[int64]domain.Ticket
	checks          map[int64]domain.Check
	sales           map[int64]domain.Sale
	saleByTicket    map[int64]int64
	usersByUsername map[string]domain.UserAccount

	nextFilmID   int64
	nextShowID   int64
	nextTicketID int64
	nextSaleID   int64
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; if
// unset, hardcoded dev defaults are used with a warning. These are never
// used in production (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		films:           make(map[int64]domain.Film),
		shows:           make(map[int64]domain.Show),
		tickets:         make(map[int64]domain.Ticket),
		checks:          make(map[int64]domain.Check),
		sales:           make(map[int64]domain.Sale),
		saleByTicket:    make(map[int64]int64),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store pre-populated with dev accounts and a small
// film catalog, enough to click through the till without a database.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	seedFilms := []domain.Film{
		{Name: "Dune", Year: 2021, DurationMin: 155, Description: "Arrakis, spice and sandworms."},
		{Name: "The Batman", Year: 2022, DurationMin: 176, Description: "Gotham noir."},
		{Name: "Amelie", Year: 2001, DurationMin: 122, Description: "Montmartre whimsy."},
	}
	for _, f := range seedFilms {
		if _, err := s.CreateFilm(context.Background(), f); err != nil {
			log.Fatalf("[memory-store] seed film %q: %v", f.Name, err)
		}
	}
	return s
}

func (s *Store) CreateFilm(_ context.Context, film domain.Film) (*domain.Film, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.films {
		if strings.EqualFold(existing.Name, film.Name) {
			return nil, store.ErrDuplicateName
		}
	}
	s.nextFilmID++
	film.ID = s.nextFilmID
	s.films[film.ID] = film
	out := film
	return &out, nil
}

func (s *Store) GetFilm(_ context.Context, id int64) (*domain.Film, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	film, ok := s.films[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := film
	return &out, nil
}

func (s *Store) ListFilms(_ context.Context, nameFilter string) ([]domain.Film, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filter := strings.ToLower(strings.TrimSpace(nameFilter))
	films := make([]domain.Film, 0, len(s.films))
	for _, f := range s.films {
		if filter != "" && !strings.Contains(strings.ToLower(f.Name), filter) {
			continue
		}
		films = append(films, f)
	}
	sort.Slice(films, func(i, j int) bool { return films[i].Name < films[j].Name })
	return films, nil
}

func (s *Store) UpdateFilm(_ context.Context, film domain.Film) (*domain.Film, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.films[film.ID]; !ok {
		return nil, store.ErrNotFound
	}
	for id, existing := range s.films {
		if id != film.ID && strings.EqualFold(existing.Name, film.Name) {
			return nil, store.ErrDuplicateName
		}
	}
	s.films[film.ID] = film
	out := film
	return &out, nil
}

func (s *Store) DeleteFilm(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.films[id]; !ok {
		return store.ErrNotFound
	}
	for showID, show := range s.shows {
		if show.FilmID == id {
			s.deleteShowLocked(showID)
		}
	}
	delete(s.films, id)
	return nil
}

func (s *Store) CreateShow(_ context.Context, show domain.Show, seats int, price int64) (*domain.Show, []domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.films[show.FilmID]; !ok {
		return nil, nil, store.ErrNotFound
	}
	for _, existing := range s.shows {
		if existing.Time == show.Time {
			return nil, nil, store.ErrTimeConflict
		}
	}
	s.nextShowID++
	show.ID = s.nextShowID
	s.shows[show.ID] = show

	tickets := make([]domain.Ticket, 0, seats)
	for place := 0; place < seats; place++ {
		s.nextTicketID++
		t := domain.Ticket{ID: s.nextTicketID, ShowID: show.ID, Place: place, Price: price}
		s.tickets[t.ID] = t
		tickets = append(tickets, t)
	}
	out := show
	return &out, tickets, nil
}

func (s *Store) GetShow(_ context.Context, id int64) (*domain.Show, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	show, ok := s.shows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := show
	return &out, nil
}

func (s *Store) ListShowsForFilm(_ context.Context, filmID int64, timeFilter string) ([]domain.Show, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shows := make([]domain.Show, 0)
	for _, show := range s.shows {
		if show.FilmID != filmID {
			continue
		}
		if timeFilter != "" && !strings.Contains(show.Time, timeFilter) {
			continue
		}
		shows = append(shows, show)
	}
	sort.Slice(shows, func(i, j int) bool { return shows[i].Time < shows[j].Time })
	return shows, nil
}

func (s *Store) DeleteShow(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.shows[id]; !ok {
		return store.ErrNotFound
	}
	s.deleteShowLocked(id)
	return nil
}

// deleteShowLocked cascades show -> tickets -> sales, keeping check sums
// consistent with the sales that remain. Caller holds the write lock.
func (s *Store) deleteShowLocked(showID int64) {
	for ticketID, ticket := range s.tickets {
		if ticket.ShowID != showID {
			continue
		}
		if saleID, sold := s.saleByTicket[ticketID]; sold {
			s.deleteSaleLocked(saleID)
		}
		delete(s.tickets, ticketID)
	}
	delete(s.shows, showID)
}

func (s *Store) GetShowTickets(_ context.Context, showID int64) ([]domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.shows[showID]; !ok {
		return nil, store.ErrNotFound
	}
	tickets := make([]domain.Ticket, 0)
	for _, t := range s.tickets {
		if t.ShowID == showID {
			tickets = append(tickets, t)
		}
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].Place < tickets[j].Place })
	return tickets, nil
}

func (s *Store) GetTicket(_ context.Context, id int64) (*domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ticket, ok := s.tickets[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := ticket
	return &out, nil
}

func (s *Store) SoldTicketIDs(_ context.Context, showID int64) (map[int64]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.shows[showID]; !ok {
		return nil, store.ErrNotFound
	}
	sold := make(map[int64]bool)
	for ticketID := range s.saleByTicket {
		if t, ok := s.tickets[ticketID]; ok && t.ShowID == showID {
			sold[ticketID] = true
		}
	}
	return sold, nil
}

func (s *Store) IsTicketSold(_ context.Context, ticketID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.tickets[ticketID]; !ok {
		return false, store.ErrNotFound
	}
	_, sold := s.saleByTicket[ticketID]
	return sold, nil
}

func (s *Store) MaxCheckID(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max int64
	for id := range s.checks {
		if id > max {
			max = id
		}
	}
	return max, nil
}

func (s *Store) CommitCheck(_ context.Context, checkID int64, items []domain.SaleItem) (*domain.Check, error) {
	if len(items) == 0 {
		return nil, store.ErrEmptyCheck
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.checks[checkID]; exists {
		return nil, store.ErrCheckIDTaken
	}

	// Validate every line before mutating anything, so a late conflict
	// cannot leave a partial check behind.
	seen := make(map[int64]bool, len(items))
	var sum int64
	for _, item := range items {
		if _, ok := s.tickets[item.TicketID]; !ok {
			return nil, fmt.Errorf("ticket %d: %w", item.TicketID, store.ErrNotFound)
		}
		if _, sold := s.saleByTicket[item.TicketID]; sold || seen[item.TicketID] {
			return nil, fmt.Errorf("ticket %d: %w", item.TicketID, store.ErrTicketSold)
		}
		seen[item.TicketID] = true
		sum += item.Cost
	}

	check := domain.Check{ID: checkID, Sum: sum}
	s.checks[checkID] = check
	for _, item := range items {
		s.nextSaleID++
		sale := domain.Sale{ID: s.nextSaleID, CheckID: checkID, TicketID: item.TicketID, Cost: item.Cost}
		s.sales[sale.ID] = sale
		s.saleByTicket[item.TicketID] = sale.ID
	}
	out := check
	return &out, nil
}

func (s *Store) GetCheck(_ context.Context, id int64) (*domain.CheckDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	check, ok := s.checks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	detail := domain.CheckDetail{Check: check, Sales: s.salesForCheckLocked(id)}
	return &detail, nil
}

func (s *Store) ListChecks(_ context.Context, limit int) ([]domain.Check, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	checks := make([]domain.Check, 0, len(s.checks))
	for _, c := range s.checks {
		checks = append(checks, c)
	}
	sort.Slice(checks, func(i, j int) bool { return checks[i].ID > checks[j].ID })
	if limit > 0 && len(checks) > limit {
		checks = checks[:limit]
	}
	return checks, nil
}

func (s *Store) GetSale(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := sale
	return &out, nil
}

func (s *Store) ListSalesForCheck(_ context.Context, checkID int64) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.checks[checkID]; !ok {
		return nil, store.ErrNotFound
	}
	return s.salesForCheckLocked(checkID), nil
}

func (s *Store) salesForCheckLocked(checkID int64) []domain.Sale {
	sales := make([]domain.Sale, 0)
	for _, sale := range s.sales {
		if sale.CheckID == checkID {
			sales = append(sales, sale)
		}
	}
	sort.Slice(sales, func(i, j int) bool { return sales[i].ID < sales[j].ID })
	return sales
}

func (s *Store) DeleteSale(_ context.Context, saleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sales[saleID]; !ok {
		return store.ErrNotFound
	}
	s.deleteSaleLocked(saleID)
	return nil
}

// deleteSaleLocked removes one sale, frees its ticket and decrements the
// owning check's sum. The check row survives even at sum zero. Caller
// holds the write lock.
func (s *Store) deleteSaleLocked(saleID int64) {
	sale, ok := s.sales[saleID]
	if !ok {
		return
	}
	if check, ok := s.checks[sale.CheckID]; ok {
		check.Sum -= sale.Cost
		if check.Sum < 0 {
			check.Sum = 0
		}
		s.checks[sale.CheckID] = check
	}
	delete(s.saleByTicket, sale.TicketID)
	delete(s.sales, saleID)
}

func (s *Store) DeleteCheck(_ context.Context, checkID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.checks[checkID]; !ok {
		return store.ErrNotFound
	}
	for saleID, sale := range s.sales {
		if sale.CheckID == checkID {
			delete(s.saleByTicket, sale.TicketID)
			delete(s.sales, saleID)
		}
	}
	delete(s.checks, checkID)
	return nil
}

func (s *Store) SalesReport(_ context.Context) (*domain.SalesReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := domain.SalesReport{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Checks:      len(s.checks),
		Sales:       len(s.sales),
	}
	type filmAgg struct {
		shows   map[int64]bool
		seats   int
		sold    int
		revenue int64
	}
	byFilm := make(map[int64]*filmAgg)
	aggFor := func(filmID int64) *filmAgg {
		agg, ok := byFilm[filmID]
		if !ok {
			agg = &filmAgg{shows: make(map[int64]bool)}
			byFilm[filmID] = agg
		}
		return agg
	}
	for _, show := range s.shows {
		aggFor(show.FilmID).shows[show.ID] = true
	}
	for _, ticket := range s.tickets {
		show, ok := s.shows[ticket.ShowID]
		if !ok {
			continue
		}
		agg := aggFor(show.FilmID)
		agg.seats++
		if saleID, sold := s.saleByTicket[ticket.ID]; sold {
			agg.sold++
			agg.revenue += s.sales[saleID].Cost
		}
	}
	for filmID, agg := range byFilm {
		film, ok := s.films[filmID]
		if !ok {
			continue
		}
		entry := domain.FilmSalesReport{
			FilmID:      filmID,
			FilmName:    film.Name,
			Shows:       len(agg.shows),
			TicketsSold: agg.sold,
			Revenue:     agg.revenue,
		}
		if agg.seats > 0 {
			entry.Occupancy = float64(agg.sold) / float64(agg.seats)
		}
		report.ByFilm = append(report.ByFilm, entry)
		report.Revenue += agg.revenue
	}
	sort.Slice(report.ByFilm, func(i, j int) bool { return report.ByFilm[i].FilmName < report.ByFilm[j].FilmName })
	return &report, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return fmt.Errorf("user %s already exists", user.Username)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
