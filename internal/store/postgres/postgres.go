package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"boxoffice/backend/internal/domain"
	"boxoffice/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

// schema is applied on every open. Constraints carry the ledger rules:
// a ticket can appear in at most one sale, show times are globally unique,
// seats are unique per show, and deletes cascade down the ownership chain.
const schema = `
CREATE TABLE IF NOT EXISTS films (
	id           BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	name         TEXT NOT NULL UNIQUE,
	year         INT NOT NULL,
	duration_min INT NOT NULL CHECK (duration_min >= 0),
	description  TEXT NOT NULL DEFAULT '',
	poster       BYTEA
);
CREATE TABLE IF NOT EXISTS shows (
	id      BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	film_id BIGINT NOT NULL REFERENCES films(id) ON DELETE CASCADE,
	time    TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS tickets (
	id      BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	show_id BIGINT NOT NULL REFERENCES shows(id) ON DELETE CASCADE,
	place   INT NOT NULL,
	price   BIGINT NOT NULL CHECK (price >= 0),
	UNIQUE (show_id, place)
);
CREATE TABLE IF NOT EXISTS checks (
	id  BIGINT PRIMARY KEY,
	sum BIGINT NOT NULL CHECK (sum >= 0)
);
CREATE TABLE IF NOT EXISTS sales (
	id        BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	check_id  BIGINT NOT NULL REFERENCES checks(id) ON DELETE CASCADE,
	ticket_id BIGINT NOT NULL UNIQUE REFERENCES tickets(id) ON DELETE CASCADE,
	cost      BIGINT NOT NULL CHECK (cost >= 0)
);
CREATE TABLE IF NOT EXISTS users (
	username   TEXT PRIMARY KEY,
	password   TEXT NOT NULL,
	role       TEXT NOT NULL DEFAULT 'cashier',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateFilm(ctx context.Context, film domain.Film) (*domain.Film, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO films (name, year, duration_min, description, poster)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, film.Name, film.Year, film.DurationMin, film.Description, film.Poster).Scan(&film.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateName
		}
		return nil, err
	}
	created := film
	return &created, nil
}

func (s *Store) GetFilm(ctx context.Context, id int64) (*domain.Film, error) {
	var film domain.Film
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, year, duration_min, description, poster
		FROM films
		WHERE id = $1
	`, id).Scan(&film.ID, &film.Name, &film.Year, &film.DurationMin, &film.Description, &film.Poster)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &film, nil
}

func (s *Store) ListFilms(ctx context.Context, nameFilter string) ([]domain.Film, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, year, duration_min, description, poster
		FROM films
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%')
		ORDER BY name
	`, strings.TrimSpace(nameFilter))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	films := make([]domain.Film, 0, 32)
	for rows.Next() {
		var f domain.Film
		if err := rows.Scan(&f.ID, &f.Name, &f.Year, &f.DurationMin, &f.Description, &f.Poster); err != nil {
			return nil, err
		}
		films = append(films, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return films, nil
}

func (s *Store) UpdateFilm(ctx context.Context, film domain.Film) (*domain.Film, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE films
		SET name = $2, year = $3, duration_min = $4, description = $5, poster = $6
		WHERE id = $1
	`, film.ID, film.Name, film.Year, film.DurationMin, film.Description, film.Poster)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateName
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	updated := film
	return &updated, nil
}

func (s *Store) DeleteFilm(ctx context.Context, id int64) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	// The cascade is about to remove any sales on this film's tickets;
	// take their cost out of the owning checks' sums first.
	_, err = pgTx.ExecContext(ctx, `
		UPDATE checks c
		SET sum = GREATEST(c.sum - d.total, 0)
		FROM (
			SELECT s.check_id, SUM(s.cost) AS total
			FROM sales s
			JOIN tickets t ON t.id = s.ticket_id
			JOIN shows sh ON sh.id = t.show_id
			WHERE sh.film_id = $1
			GROUP BY s.check_id
		) d
		WHERE c.id = d.check_id
	`, id)
	if err != nil {
		return err
	}

	res, err := pgTx.ExecContext(ctx, `DELETE FROM films WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return pgTx.Commit()
}

func (s *Store) CreateShow(ctx context.Context, show domain.Show, seats int, price int64) (*domain.Show, []domain.Ticket, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var exists bool
	if err := pgTx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM films WHERE id = $1)`, show.FilmID).Scan(&exists); err != nil {
		return nil, nil, err
	}
	if !exists {
		return nil, nil, store.ErrNotFound
	}

	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO shows (film_id, time)
		VALUES ($1,$2)
		RETURNING id
	`, show.FilmID, show.Time).Scan(&show.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, store.ErrTimeConflict
		}
		return nil, nil, err
	}

	tickets := make([]domain.Ticket, 0, seats)
	for place := 0; place < seats; place++ {
		t := domain.Ticket{ShowID: show.ID, Place: place, Price: price}
		err := pgTx.QueryRowContext(ctx, `
			INSERT INTO tickets (show_id, place, price)
			VALUES ($1,$2,$3)
			RETURNING id
		`, t.ShowID, t.Place, t.Price).Scan(&t.ID)
		if err != nil {
			return nil, nil, err
		}
		tickets = append(tickets, t)
	}

	if err := pgTx.Commit(); err != nil {
		return nil, nil, err
	}
	created := show
	return &created, tickets, nil
}

func (s *Store) GetShow(ctx context.Context, id int64) (*domain.Show, error) {
	var show domain.Show
	err := s.db.QueryRowContext(ctx, `
		SELECT id, film_id, time FROM shows WHERE id = $1
	`, id).Scan(&show.ID, &show.FilmID, &show.Time)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &show, nil
}

func (s *Store) ListShowsForFilm(ctx context.Context, filmID int64, timeFilter string) ([]domain.Show, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, film_id, time
		FROM shows
		WHERE film_id = $1 AND ($2 = '' OR time LIKE '%' || $2 || '%')
		ORDER BY time
	`, filmID, timeFilter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shows := make([]domain.Show, 0, 16)
	for rows.Next() {
		var sh domain.Show
		if err := rows.Scan(&sh.ID, &sh.FilmID, &sh.Time); err != nil {
			return nil, err
		}
		shows = append(shows, sh)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return shows, nil
}

func (s *Store) DeleteShow(ctx context.Context, id int64) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	// Same repair as DeleteFilm: checks keep their rows when sales
	// cascade away, so their sums must be decremented here.
	_, err = pgTx.ExecContext(ctx, `
		UPDATE checks c
		SET sum = GREATEST(c.sum - d.total, 0)
		FROM (
			SELECT s.check_id, SUM(s.cost) AS total
			FROM sales s
			JOIN tickets t ON t.id = s.ticket_id
			WHERE t.show_id = $1
			GROUP BY s.check_id
		) d
		WHERE c.id = d.check_id
	`, id)
	if err != nil {
		return err
	}

	res, err := pgTx.ExecContext(ctx, `DELETE FROM shows WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return pgTx.Commit()
}

func (s *Store) GetShowTickets(ctx context.Context, showID int64) ([]domain.Ticket, error) {
	if _, err := s.GetShow(ctx, showID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, show_id, place, price
		FROM tickets
		WHERE show_id = $1
		ORDER BY place
	`, showID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tickets := make([]domain.Ticket, 0, 32)
	for rows.Next() {
		var t domain.Ticket
		if err := rows.Scan(&t.ID, &t.ShowID, &t.Place, &t.Price); err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (s *Store) GetTicket(ctx context.Context, id int64) (*domain.Ticket, error) {
	var t domain.Ticket
	err := s.db.QueryRowContext(ctx, `
		SELECT id, show_id, place, price FROM tickets WHERE id = $1
	`, id).Scan(&t.ID, &t.ShowID, &t.Place, &t.Price)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *Store) SoldTicketIDs(ctx context.Context, showID int64) (map[int64]bool, error) {
	if _, err := s.GetShow(ctx, showID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT sales.ticket_id
		FROM sales
		JOIN tickets ON tickets.id = sales.ticket_id
		WHERE tickets.show_id = $1
	`, showID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sold := make(map[int64]bool)
	for rows.Next() {
		var ticketID int64
		if err := rows.Scan(&ticketID); err != nil {
			return nil, err
		}
		sold[ticketID] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sold, nil
}

func (s *Store) IsTicketSold(ctx context.Context, ticketID int64) (bool, error) {
	if _, err := s.GetTicket(ctx, ticketID); err != nil {
		return false, err
	}
	var sold bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM sales WHERE ticket_id = $1)
	`, ticketID).Scan(&sold)
	if err != nil {
		return false, err
	}
	return sold, nil
}

func (s *Store) MaxCheckID(ctx context.Context) (int64, error) {
	var max sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM checks`).Scan(&max); err != nil {
		return 0, err
	}
	return max.Int64, nil
}

func (s *Store) CommitCheck(ctx context.Context, checkID int64, items []domain.SaleItem) (*domain.Check, error) {
	if len(items) == 0 {
		return nil, store.ErrEmptyCheck
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var sum int64
	for _, item := range items {
		sum += item.Cost
	}

	if _, err := pgTx.ExecContext(ctx, `INSERT INTO checks (id, sum) VALUES ($1,$2)`, checkID, sum); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrCheckIDTaken
		}
		return nil, err
	}
	// The unique constraint on sales.ticket_id is the exclusivity rule;
	// any violation here rolls the whole check back.
	for _, item := range items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sales (check_id, ticket_id, cost)
			VALUES ($1,$2,$3)
		`, checkID, item.TicketID, item.Cost)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, store.ErrTicketSold
			}
			if isForeignKeyViolation(err) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrTicketSold
		}
		return nil, err
	}
	return &domain.Check{ID: checkID, Sum: sum}, nil
}

func (s *Store) GetCheck(ctx context.Context, id int64) (*domain.CheckDetail, error) {
	var detail domain.CheckDetail
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sum FROM checks WHERE id = $1
	`, id).Scan(&detail.Check.ID, &detail.Check.Sum)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sales, err := s.ListSalesForCheck(ctx, id)
	if err != nil {
		return nil, err
	}
	detail.Sales = sales
	return &detail, nil
}

func (s *Store) ListChecks(ctx context.Context, limit int) ([]domain.Check, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sum FROM checks ORDER BY id DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	checks := make([]domain.Check, 0, limit)
	for rows.Next() {
		var c domain.Check
		if err := rows.Scan(&c.ID, &c.Sum); err != nil {
			return nil, err
		}
		checks = append(checks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return checks, nil
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	var sale domain.Sale
	err := s.db.QueryRowContext(ctx, `
		SELECT id, check_id, ticket_id, cost FROM sales WHERE id = $1
	`, id).Scan(&sale.ID, &sale.CheckID, &sale.TicketID, &sale.Cost)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sale, nil
}

func (s *Store) ListSalesForCheck(ctx context.Context, checkID int64) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, check_id, ticket_id, cost
		FROM sales
		WHERE check_id = $1
		ORDER BY id
	`, checkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 8)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(&sale.ID, &sale.CheckID, &sale.TicketID, &sale.Cost); err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) DeleteSale(ctx context.Context, saleID int64) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	var checkID, cost int64
	err = pgTx.QueryRowContext(ctx, `
		SELECT check_id, cost FROM sales WHERE id = $1 FOR UPDATE
	`, saleID).Scan(&checkID, &cost)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID); err != nil {
		return err
	}
	if _, err := pgTx.ExecContext(ctx, `
		UPDATE checks SET sum = GREATEST(sum - $2, 0) WHERE id = $1
	`, checkID, cost); err != nil {
		return err
	}
	return pgTx.Commit()
}

func (s *Store) DeleteCheck(ctx context.Context, checkID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM checks WHERE id = $1`, checkID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SalesReport(ctx context.Context) (*domain.SalesReport, error) {
	report := domain.SalesReport{GeneratedAt: time.Now().UTC().Format(time.RFC3339)}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM checks),
			(SELECT COUNT(*) FROM sales),
			COALESCE((SELECT SUM(cost) FROM sales), 0)
	`).Scan(&report.Checks, &report.Sales, &report.Revenue)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			films.id,
			films.name,
			COUNT(DISTINCT shows.id),
			COUNT(sales.id),
			COALESCE(SUM(sales.cost), 0),
			COUNT(tickets.id)
		FROM films
		JOIN shows ON shows.film_id = films.id
		LEFT JOIN tickets ON tickets.show_id = shows.id
		LEFT JOIN sales ON sales.ticket_id = tickets.id
		GROUP BY films.id, films.name
		ORDER BY films.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var entry domain.FilmSalesReport
		var seats int
		if err := rows.Scan(&entry.FilmID, &entry.FilmName, &entry.Shows, &entry.TicketsSold, &entry.Revenue, &seats); err != nil {
			return nil, err
		}
		if seats > 0 {
			entry.Occupancy = float64(entry.TicketsSold) / float64(seats)
		}
		report.ByFilm = append(report.ByFilm, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &report, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, created_at)
		VALUES ($1,$2,$3,$4)
	`, user.Username, user.Password, user.Role, user.CreatedAt)
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, created_at FROM users ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
