package domain

import "time"

// ShowTimeLayout is the canonical textual form of a show's start time.
// Times are stored and compared in this form; uniqueness of shows is
// uniqueness of the formatted string.
const ShowTimeLayout = "2006-01-02 15:04"

type Film struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Year        int    `json:"year"`
	DurationMin int    `json:"duration_min"`
	Description string `json:"description"`
	Poster      []byte `json:"poster,omitempty"`
}

type FilmCreateRequest struct {
	Name        string `json:"name"`
	Year        int    `json:"year"`
	DurationMin int    `json:"duration_min"`
	Description string `json:"description"`
	Poster      []byte `json:"poster"`
}

type FilmUpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	Year        *int    `json:"year,omitempty"`
	DurationMin *int    `json:"duration_min,omitempty"`
	Description *string `json:"description,omitempty"`
	// Poster nil leaves the stored image untouched.
	Poster []byte `json:"poster,omitempty"`
}

type Show struct {
	ID     int64  `json:"id"`
	FilmID int64  `json:"film_id"`
	Time   string `json:"time"`
}

type ShowCreateRequest struct {
	FilmID int64  `json:"film_id"`
	Time   string `json:"time"`
	Price  int64  `json:"price"`
}

type ShowCreateResponse struct {
	ShowID         int64 `json:"show_id"`
	TicketsCreated int   `json:"tickets_created"`
}

type Ticket struct {
	ID     int64 `json:"id"`
	ShowID int64 `json:"show_id"`
	Place  int   `json:"place"`
	Price  int64 `json:"price"`
}

// SeatView is a ticket joined with its sold state, as the till renders it.
type SeatView struct {
	TicketID int64 `json:"ticket_id"`
	Place    int   `json:"place"`
	Price    int64 `json:"price"`
	Sold     bool  `json:"sold"`
}

type Check struct {
	ID  int64 `json:"id"`
	Sum int64 `json:"sum"`
}

type Sale struct {
	ID       int64 `json:"id"`
	CheckID  int64 `json:"check_id"`
	TicketID int64 `json:"ticket_id"`
	Cost     int64 `json:"cost"`
}

type CheckDetail struct {
	Check Check  `json:"check"`
	Sales []Sale `json:"sales"`
}

// SaleItem is one line of a check commit: a ticket and the cost captured
// at sale time.
type SaleItem struct {
	TicketID int64 `json:"ticket_id"`
	Cost     int64 `json:"cost"`
}

type CommitCheckRequest struct {
	CheckID int64      `json:"check_id"`
	Items   []SaleItem `json:"items"`
}

type CommitCheckResponse struct {
	CheckID     int64 `json:"check_id"`
	Sum         int64 `json:"sum"`
	TicketsSold int   `json:"tickets_sold"`
}

type BulkReturnRequest struct {
	SaleIDs  []int64 `json:"sale_ids"`
	CheckIDs []int64 `json:"check_ids"`
}

type BulkReturnResult struct {
	ChecksReturned int `json:"checks_returned"`
	SalesReturned  int `json:"sales_returned"`
	Failed         int `json:"failed"`
}

type ReturnRequestBody struct {
	TerminalID string  `json:"terminal_id"`
	SaleIDs    []int64 `json:"sale_ids"`
	CheckIDs   []int64 `json:"check_ids"`
}

type ReturnConfirmBody struct {
	TerminalID string `json:"terminal_id"`
	Login      string `json:"login"`
	Password   string `json:"password"`
}

type ReturnCancelBody struct {
	TerminalID string `json:"terminal_id"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type PasswordChangeRequest struct {
	Username    string `json:"username"`
	NewPassword string `json:"new_password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	CreatedAt time.Time
}

// FilmSalesReport aggregates ledger rows for the admin stats view.
type FilmSalesReport struct {
	FilmID      int64   `json:"film_id"`
	FilmName    string  `json:"film_name"`
	Shows       int     `json:"shows"`
	TicketsSold int     `json:"tickets_sold"`
	Revenue     int64   `json:"revenue"`
	Occupancy   float64 `json:"occupancy"`
}

type SalesReport struct {
	GeneratedAt string            `json:"generated_at"`
	Checks      int               `json:"checks"`
	Sales       int               `json:"sales"`
	Revenue     int64             `json:"revenue"`
	ByFilm      []FilmSalesReport `json:"by_film"`
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)
