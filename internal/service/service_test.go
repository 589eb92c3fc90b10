package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"boxoffice/backend/internal/domain"
	"boxoffice/backend/internal/store"
	"boxoffice/backend/internal/store/memory"
)

func newTestService() *Service {
	return New(memory.NewSeeded(), nil, 20, "admin")
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

func posterPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 30, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode poster: %v", err)
	}
	return buf.Bytes()
}

// createShow makes a show on the seeded "Dune" film and returns its seats.
func createShow(t *testing.T, svc *Service, at string) (int64, []domain.SeatView) {
	t.Helper()
	resp, err := svc.CreateShow(adminCtx(), domain.ShowCreateRequest{FilmID: 1, Time: at, Price: 300})
	if err != nil {
		t.Fatalf("create show failed: %v", err)
	}
	seats, err := svc.ShowSeats(context.Background(), resp.ShowID)
	if err != nil {
		t.Fatalf("show seats failed: %v", err)
	}
	return resp.ShowID, seats
}

func TestCreateFilmRequiresAdmin(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateFilm(cashierCtx(), domain.FilmCreateRequest{
		Name: "Arrival", Year: 2016, DurationMin: 116, Description: "First contact.", Poster: posterPNG(t),
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for cashier, got %v", err)
	}
}

func TestCreateFilmValidation(t *testing.T) {
	svc := newTestService()
	poster := posterPNG(t)

	cases := []struct {
		name string
		req  domain.FilmCreateRequest
	}{
		{"empty name", domain.FilmCreateRequest{Year: 2016, DurationMin: 116, Description: "x", Poster: poster}},
		{"year too early", domain.FilmCreateRequest{Name: "Arrival", Year: 1899, DurationMin: 116, Description: "x", Poster: poster}},
		{"year too late", domain.FilmCreateRequest{Name: "Arrival", Year: 2023, DurationMin: 116, Description: "x", Poster: poster}},
		{"short duration", domain.FilmCreateRequest{Name: "Arrival", Year: 2016, DurationMin: 9, Description: "x", Poster: poster}},
		{"empty description", domain.FilmCreateRequest{Name: "Arrival", Year: 2016, DurationMin: 116, Poster: poster}},
		{"missing poster", domain.FilmCreateRequest{Name: "Arrival", Year: 2016, DurationMin: 116, Description: "x"}},
		{"poster not an image", domain.FilmCreateRequest{Name: "Arrival", Year: 2016, DurationMin: 116, Description: "x", Poster: []byte("not a picture")}},
	}
	for _, tc := range cases {
		if _, err := svc.CreateFilm(adminCtx(), tc.req); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", tc.name, err)
		}
	}
}

func TestCreateFilmDuplicateName(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateFilm(adminCtx(), domain.FilmCreateRequest{
		Name: "dune", Year: 2021, DurationMin: 155, Description: "Duplicate of the seed film.", Poster: posterPNG(t),
	})
	if !errors.Is(err, store.ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
}

func TestUpdateFilmPartialKeepsPoster(t *testing.T) {
	svc := newTestService()

	created, err := svc.CreateFilm(adminCtx(), domain.FilmCreateRequest{
		Name: "Arrival", Year: 2016, DurationMin: 116, Description: "First contact.", Poster: posterPNG(t),
	})
	if err != nil {
		t.Fatalf("create film failed: %v", err)
	}
	if len(created.Poster) == 0 {
		t.Fatalf("expected stored poster bytes")
	}

	newName := "Arrival (Director's Cut)"
	updated, err := svc.UpdateFilm(adminCtx(), created.ID, domain.FilmUpdateRequest{Name: &newName})
	if err != nil {
		t.Fatalf("update film failed: %v", err)
	}
	if updated.Name != newName {
		t.Fatalf("expected renamed film, got %s", updated.Name)
	}
	if updated.Year != 2016 || updated.DurationMin != 116 {
		t.Fatalf("expected untouched fields to survive the partial update")
	}
	if !bytes.Equal(updated.Poster, created.Poster) {
		t.Fatalf("expected poster to be kept when the update omits it")
	}
}

func TestCreateShowSpawnsFullSeatRow(t *testing.T) {
	svc := newTestService()

	resp, err := svc.CreateShow(adminCtx(), domain.ShowCreateRequest{FilmID: 1, Time: "2022-05-01 19:30", Price: 450})
	if err != nil {
		t.Fatalf("create show failed: %v", err)
	}
	if resp.TicketsCreated != 20 {
		t.Fatalf("expected 20 tickets created, got %d", resp.TicketsCreated)
	}

	seats, err := svc.ShowSeats(context.Background(), resp.ShowID)
	if err != nil {
		t.Fatalf("show seats failed: %v", err)
	}
	if len(seats) != 20 {
		t.Fatalf("expected 20 seats, got %d", len(seats))
	}
	places := make(map[int]bool)
	for _, seat := range seats {
		if seat.Place < 0 || seat.Place > 19 {
			t.Fatalf("seat place %d out of range", seat.Place)
		}
		if places[seat.Place] {
			t.Fatalf("duplicate seat place %d", seat.Place)
		}
		places[seat.Place] = true
		if seat.Price != 450 {
			t.Fatalf("expected every seat at price 450, got %d", seat.Price)
		}
		if seat.Sold {
			t.Fatalf("expected fresh show with no sold seats")
		}
	}
}

func TestCreateShowRejectsBadInput(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateShow(adminCtx(), domain.ShowCreateRequest{FilmID: 1, Time: "next tuesday", Price: 300})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for unparseable time, got %v", err)
	}
	_, err = svc.CreateShow(adminCtx(), domain.ShowCreateRequest{FilmID: 1, Time: "2022-05-01 19:30", Price: -1})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for negative price, got %v", err)
	}
	_, err = svc.CreateShow(cashierCtx(), domain.ShowCreateRequest{FilmID: 1, Time: "2022-05-01 19:30", Price: 300})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for cashier, got %v", err)
	}
}

func TestCreateShowTimeConflict(t *testing.T) {
	svc := newTestService()

	if _, err := svc.CreateShow(adminCtx(), domain.ShowCreateRequest{FilmID: 1, Time: "2022-05-01 19:30", Price: 300}); err != nil {
		t.Fatalf("first show failed: %v", err)
	}
	_, err := svc.CreateShow(adminCtx(), domain.ShowCreateRequest{FilmID: 2, Time: "2022-05-01 19:30", Price: 350})
	if !errors.Is(err, store.ErrTimeConflict) {
		t.Fatalf("expected ErrTimeConflict, got %v", err)
	}
}

func TestCommitCheckAllocatesSequentialIDs(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	_, seats := createShow(t, svc, "2022-05-01 19:30")

	first, err := svc.CommitCheck(ctx, domain.CommitCheckRequest{
		Items: []domain.SaleItem{
			{TicketID: seats[0].TicketID, Cost: 300},
			{TicketID: seats[1].TicketID, Cost: 300},
		},
	})
	if err != nil {
		t.Fatalf("first commit failed: %v", err)
	}
	if first.CheckID != 1 || first.Sum != 600 || first.TicketsSold != 2 {
		t.Fatalf("unexpected first check: %+v", first)
	}

	second, err := svc.CommitCheck(ctx, domain.CommitCheckRequest{
		Items: []domain.SaleItem{{TicketID: seats[2].TicketID, Cost: 300}},
	})
	if err != nil {
		t.Fatalf("second commit failed: %v", err)
	}
	if second.CheckID != 2 {
		t.Fatalf("expected check id 2, got %d", second.CheckID)
	}

	sold, err := svc.IsSold(ctx, seats[0].TicketID)
	if err != nil || !sold {
		t.Fatalf("expected committed ticket to be sold (sold=%v err=%v)", sold, err)
	}
}

func TestCommitCheckRejectsEmptyAndNegative(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	_, seats := createShow(t, svc, "2022-05-01 19:30")

	_, err := svc.CommitCheck(ctx, domain.CommitCheckRequest{})
	if !errors.Is(err, store.ErrEmptyCheck) {
		t.Fatalf("expected ErrEmptyCheck, got %v", err)
	}
	_, err = svc.CommitCheck(ctx, domain.CommitCheckRequest{
		Items: []domain.SaleItem{{TicketID: seats[0].TicketID, Cost: -5}},
	})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for negative cost, got %v", err)
	}
}

func TestCommitCheckDoubleSellLeavesNoPartialCheck(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	_, seats := createShow(t, svc, "2022-05-01 19:30")

	if _, err := svc.CommitCheck(ctx, domain.CommitCheckRequest{
		Items: []domain.SaleItem{{TicketID: seats[0].TicketID, Cost: 300}},
	}); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}

	// One conflicting line fails the entire check.
	_, err := svc.CommitCheck(ctx, domain.CommitCheckRequest{
		Items: []domain.SaleItem{
			{TicketID: seats[1].TicketID, Cost: 300},
			{TicketID: seats[0].TicketID, Cost: 300},
		},
	})
	if !errors.Is(err, store.ErrTicketSold) {
		t.Fatalf("expected ErrTicketSold, got %v", err)
	}

	sold, err := svc.IsSold(ctx, seats[1].TicketID)
	if err != nil {
		t.Fatalf("is sold failed: %v", err)
	}
	if sold {
		t.Fatalf("expected sibling ticket of a failed check to stay available")
	}
	next, err := svc.NextCheckID(ctx)
	if err != nil {
		t.Fatalf("next check id failed: %v", err)
	}
	if next != 2 {
		t.Fatalf("expected next check id 2 after one committed check, got %d", next)
	}
}

func TestCommitCheckExplicitIDTriedOnce(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	_, seats := createShow(t, svc, "2022-05-01 19:30")

	if _, err := svc.CommitCheck(ctx, domain.CommitCheckRequest{
		CheckID: 7,
		Items:   []domain.SaleItem{{TicketID: seats[0].TicketID, Cost: 300}},
	}); err != nil {
		t.Fatalf("explicit commit failed: %v", err)
	}

	_, err := svc.CommitCheck(ctx, domain.CommitCheckRequest{
		CheckID: 7,
		Items:   []domain.SaleItem{{TicketID: seats[1].TicketID, Cost: 300}},
	})
	if !errors.Is(err, store.ErrCheckIDTaken) {
		t.Fatalf("expected ErrCheckIDTaken for reused explicit id, got %v", err)
	}
}

func TestNextCheckIDGapTolerant(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	_, seats := createShow(t, svc, "2022-05-01 19:30")

	if _, err := svc.CommitCheck(ctx, domain.CommitCheckRequest{
		CheckID: 10,
		Items:   []domain.SaleItem{{TicketID: seats[0].TicketID, Cost: 300}},
	}); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	next, err := svc.NextCheckID(ctx)
	if err != nil {
		t.Fatalf("next check id failed: %v", err)
	}
	if next != 11 {
		t.Fatalf("expected next check id 11 after a gapped commit, got %d", next)
	}
}

// collidingRepo forces the first few CommitCheck calls to report an id
// collision, mimicking a racing till grabbing the previewed id first.
type collidingRepo struct {
	*memory.Store
	collisions int
}

func (r *collidingRepo) CommitCheck(ctx context.Context, checkID int64, items []domain.SaleItem) (*domain.Check, error) {
	if r.collisions > 0 {
		r.collisions--
		return nil, store.ErrCheckIDTaken
	}
	return r.Store.CommitCheck(ctx, checkID, items)
}

func TestCommitCheckRetriesOnIDCollision(t *testing.T) {
	repo := &collidingRepo{Store: memory.NewSeeded(), collisions: 2}
	svc := New(repo, nil, 20, "admin")
	ctx := context.Background()

	showResp, err := svc.CreateShow(adminCtx(), domain.ShowCreateRequest{FilmID: 1, Time: "2022-05-01 19:30", Price: 300})
	if err != nil {
		t.Fatalf("create show failed: %v", err)
	}
	seats, err := svc.ShowSeats(ctx, showResp.ShowID)
	if err != nil {
		t.Fatalf("show seats failed: %v", err)
	}

	resp, err := svc.CommitCheck(ctx, domain.CommitCheckRequest{
		Items: []domain.SaleItem{{TicketID: seats[0].TicketID, Cost: 300}},
	})
	if err != nil {
		t.Fatalf("expected commit to succeed after retries, got %v", err)
	}
	if resp.CheckID != 1 {
		t.Fatalf("expected check id 1, got %d", resp.CheckID)
	}
}

func TestConcurrentCommitsSellTicketOnce(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	_, seats := createShow(t, svc, "2022-05-01 19:30")
	contested := seats[0].TicketID

	const tills = 12
	var wg sync.WaitGroup
	results := make(chan error, tills)
	for i := 0; i < tills; i++ {
		wg.Add(1)
		go func(till int) {
			defer wg.Done()
			_, err := svc.CommitCheck(ctx, domain.CommitCheckRequest{
				CheckID: int64(100 + till),
				Items:   []domain.SaleItem{{TicketID: contested, Cost: 300}},
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	won := 0
	for err := range results {
		if err == nil {
			won++
		} else if !errors.Is(err, store.ErrTicketSold) {
			t.Fatalf("unexpected commit error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one till to win the ticket, got %d", won)
	}
}

func TestReturnSaleRestoresAvailability(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	_, seats := createShow(t, svc, "2022-05-01 19:30")

	resp, err := svc.CommitCheck(ctx, domain.CommitCheckRequest{
		Items: []domain.SaleItem{
			{TicketID: seats[0].TicketID, Cost: 300},
			{TicketID: seats[1].TicketID, Cost: 300},
		},
	})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	detail, err := svc.GetCheck(ctx, resp.CheckID)
	if err != nil {
		t.Fatalf("get check failed: %v", err)
	}
	if len(detail.Sales) != 2 {
		t.Fatalf("expected 2 sales on the check, got %d", len(detail.Sales))
	}

	if err := svc.ReturnSale(ctx, detail.Sales[0].ID); err != nil {
		t.Fatalf("return sale failed: %v", err)
	}
	after, err := svc.GetCheck(ctx, resp.CheckID)
	if err != nil {
		t.Fatalf("get check after return failed: %v", err)
	}
	if after.Check.Sum != 300 {
		t.Fatalf("expected sum 300 after one return, got %d", after.Check.Sum)
	}
	sold, err := svc.IsSold(ctx, seats[0].TicketID)
	if err != nil || sold {
		t.Fatalf("expected returned ticket to be available (sold=%v err=%v)", sold, err)
	}

	// Returning the last sale empties the check but keeps the row.
	if err := svc.ReturnSale(ctx, detail.Sales[1].ID); err != nil {
		t.Fatalf("second return failed: %v", err)
	}
	empty, err := svc.GetCheck(ctx, resp.CheckID)
	if err != nil {
		t.Fatalf("expected empty check row to survive, got %v", err)
	}
	if empty.Check.Sum != 0 {
		t.Fatalf("expected sum 0, got %d", empty.Check.Sum)
	}

	// A second return of the same sale is a not-found, not a double credit.
	if err := svc.ReturnSale(ctx, detail.Sales[0].ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on repeated return, got %v", err)
	}
}

func TestReturnCheckCascades(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	_, seats := createShow(t, svc, "2022-05-01 19:30")

	resp, err := svc.CommitCheck(ctx, domain.CommitCheckRequest{
		Items: []domain.SaleItem{
			{TicketID: seats[0].TicketID, Cost: 300},
			{TicketID: seats[1].TicketID, Cost: 300},
		},
	})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	if err := svc.ReturnCheck(ctx, resp.CheckID); err != nil {
		t.Fatalf("return check failed: %v", err)
	}
	if _, err := svc.GetCheck(ctx, resp.CheckID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected returned check to be gone, got %v", err)
	}
	for _, ticketID := range []int64{seats[0].TicketID, seats[1].TicketID} {
		sold, err := svc.IsSold(ctx, ticketID)
		if err != nil || sold {
			t.Fatalf("expected ticket %d to be available (sold=%v err=%v)", ticketID, sold, err)
		}
	}
}

func TestBulkReturnDedupsAndCounts(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	_, seats := createShow(t, svc, "2022-05-01 19:30")

	checkA, err := svc.CommitCheck(ctx, domain.CommitCheckRequest{
		Items: []domain.SaleItem{
			{TicketID: seats[0].TicketID, Cost: 300},
			{TicketID: seats[1].TicketID, Cost: 300},
		},
	})
	if err != nil {
		t.Fatalf("check A failed: %v", err)
	}
	checkB, err := svc.CommitCheck(ctx, domain.CommitCheckRequest{
		Items: []domain.SaleItem{{TicketID: seats[2].TicketID, Cost: 300}},
	})
	if err != nil {
		t.Fatalf("check B failed: %v", err)
	}

	detailA, err := svc.GetCheck(ctx, checkA.CheckID)
	if err != nil {
		t.Fatalf("get check A failed: %v", err)
	}
	detailB, err := svc.GetCheck(ctx, checkB.CheckID)
	if err != nil {
		t.Fatalf("get check B failed: %v", err)
	}

	// Check A listed twice, one of its member sales listed alongside it and
	// a lone sale from check B, plus a check that does not exist.
	result, err := svc.BulkReturn(ctx,
		[]int64{detailA.Sales[0].ID, detailB.Sales[0].ID},
		[]int64{checkA.CheckID, checkA.CheckID, 9999},
	)
	if err != nil {
		t.Fatalf("bulk return failed: %v", err)
	}
	if result.ChecksReturned != 1 {
		t.Fatalf("expected 1 check returned, got %d", result.ChecksReturned)
	}
	if result.SalesReturned != 1 {
		t.Fatalf("expected 1 lone sale returned, got %d", result.SalesReturned)
	}
	if result.Failed != 1 {
		t.Fatalf("expected 1 failed item, got %d", result.Failed)
	}

	if _, err := svc.GetCheck(ctx, checkA.CheckID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected check A to be gone, got %v", err)
	}
	remainB, err := svc.GetCheck(ctx, checkB.CheckID)
	if err != nil {
		t.Fatalf("expected check B to survive with its sale returned, got %v", err)
	}
	if remainB.Check.Sum != 0 {
		t.Fatalf("expected check B sum 0, got %d", remainB.Check.Sum)
	}
}

func TestDeleteShowCascadesThroughLedger(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	showID, seats := createShow(t, svc, "2022-05-01 19:30")

	resp, err := svc.CommitCheck(ctx, domain.CommitCheckRequest{
		Items: []domain.SaleItem{{TicketID: seats[0].TicketID, Cost: 300}},
	})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	if err := svc.DeleteShow(adminCtx(), showID); err != nil {
		t.Fatalf("delete show failed: %v", err)
	}
	if _, err := svc.IsSold(ctx, seats[0].TicketID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected cascaded ticket to be gone, got %v", err)
	}
	detail, err := svc.GetCheck(ctx, resp.CheckID)
	if err != nil {
		t.Fatalf("get check failed: %v", err)
	}
	if detail.Check.Sum != 0 || len(detail.Sales) != 0 {
		t.Fatalf("expected cascaded sale removed and sum 0, got sum=%d sales=%d", detail.Check.Sum, len(detail.Sales))
	}
}

func TestDeleteFilmCascadesThroughLedger(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	_, seats := createShow(t, svc, "2022-05-01 19:30")

	resp, err := svc.CommitCheck(ctx, domain.CommitCheckRequest{
		Items: []domain.SaleItem{{TicketID: seats[0].TicketID, Cost: 300}},
	})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	if err := svc.DeleteFilm(adminCtx(), 1); err != nil {
		t.Fatalf("delete film failed: %v", err)
	}
	if _, err := svc.IsSold(ctx, seats[0].TicketID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected cascaded ticket to be gone, got %v", err)
	}
	detail, err := svc.GetCheck(ctx, resp.CheckID)
	if err != nil {
		t.Fatalf("get check failed: %v", err)
	}
	if detail.Check.Sum != 0 || len(detail.Sales) != 0 {
		t.Fatalf("expected film delete to cascade the sale and zero the sum, got sum=%d sales=%d", detail.Check.Sum, len(detail.Sales))
	}
}

func TestTicketDisplayName(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	_, seats := createShow(t, svc, "2022-05-01 19:30")

	var seat0 domain.SeatView
	for _, seat := range seats {
		if seat.Place == 0 {
			seat0 = seat
		}
	}
	name, err := svc.TicketDisplayName(ctx, seat0.TicketID)
	if err != nil {
		t.Fatalf("display name failed: %v", err)
	}
	want := fmt.Sprintf("Dune, 2022-05-01 19:30, seat %d", 1)
	if name != want {
		t.Fatalf("expected %q, got %q", want, name)
	}
}

func TestReturnAuthorizationWorkflow(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	_, seats := createShow(t, svc, "2022-05-01 19:30")

	resp, err := svc.CommitCheck(ctx, domain.CommitCheckRequest{
		Items: []domain.SaleItem{{TicketID: seats[0].TicketID, Cost: 300}},
	})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	if _, err := svc.RequestReturn("till-1", nil, nil); !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("expected ErrEmptySelection, got %v", err)
	}

	awaiting, err := svc.RequestReturn("till-1", nil, []int64{resp.CheckID})
	if err != nil || !awaiting {
		t.Fatalf("expected staged return (awaiting=%v err=%v)", awaiting, err)
	}
	if state := svc.ReturnState("till-1"); state != ReturnStateAwaiting {
		t.Fatalf("expected awaiting state, got %s", state)
	}
	if state := svc.ReturnState("till-2"); state != ReturnStateIdle {
		t.Fatalf("expected other till to stay idle, got %s", state)
	}

	// Triggering again toggles the request off.
	awaiting, err = svc.RequestReturn("till-1", nil, []int64{resp.CheckID})
	if err != nil || awaiting {
		t.Fatalf("expected toggle to cancel (awaiting=%v err=%v)", awaiting, err)
	}
	if state := svc.ReturnState("till-1"); state != ReturnStateIdle {
		t.Fatalf("expected idle after toggle, got %s", state)
	}

	if _, err := svc.RequestReturn("till-1", nil, []int64{resp.CheckID}); err != nil {
		t.Fatalf("restage failed: %v", err)
	}

	// A non-privileged credential is rejected and the selection survives.
	if _, err := svc.ConfirmReturn(ctx, "till-1", "cashier"); !errors.Is(err, ErrReturnRejected) {
		t.Fatalf("expected ErrReturnRejected, got %v", err)
	}
	if state := svc.ReturnState("till-1"); state != ReturnStateAwaiting {
		t.Fatalf("expected selection to survive rejection, got %s", state)
	}

	result, err := svc.ConfirmReturn(ctx, "till-1", "admin")
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if result.ChecksReturned != 1 {
		t.Fatalf("expected 1 check returned, got %d", result.ChecksReturned)
	}
	if state := svc.ReturnState("till-1"); state != ReturnStateIdle {
		t.Fatalf("expected idle after execution, got %s", state)
	}
	if _, err := svc.ConfirmReturn(ctx, "till-1", "admin"); !errors.Is(err, ErrNoReturnPending) {
		t.Fatalf("expected ErrNoReturnPending, got %v", err)
	}
	if _, err := svc.GetCheck(ctx, resp.CheckID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected confirmed return to hit the ledger, got %v", err)
	}
}

func TestCancelReturnDropsSelection(t *testing.T) {
	svc := newTestService()

	if _, err := svc.RequestReturn("till-1", []int64{1}, nil); err != nil {
		t.Fatalf("stage failed: %v", err)
	}
	svc.CancelReturn("till-1")
	if state := svc.ReturnState("till-1"); state != ReturnStateIdle {
		t.Fatalf("expected idle after cancel, got %s", state)
	}
}

func TestSalesReport(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	_, seats := createShow(t, svc, "2022-05-01 19:30")

	if _, err := svc.CommitCheck(ctx, domain.CommitCheckRequest{
		Items: []domain.SaleItem{
			{TicketID: seats[0].TicketID, Cost: 300},
			{TicketID: seats[1].TicketID, Cost: 300},
		},
	}); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	if _, err := svc.SalesReport(cashierCtx()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for cashier report, got %v", err)
	}

	report, err := svc.SalesReport(adminCtx())
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if report.Revenue != 600 || report.Sales != 2 || report.Checks != 1 {
		t.Fatalf("unexpected report totals: %+v", report)
	}
	found := false
	for _, entry := range report.ByFilm {
		if entry.FilmName == "Dune" {
			found = true
			if entry.TicketsSold != 2 || entry.Revenue != 600 {
				t.Fatalf("unexpected Dune entry: %+v", entry)
			}
			if entry.Occupancy != 0.1 {
				t.Fatalf("expected occupancy 0.1, got %f", entry.Occupancy)
			}
		}
	}
	if !found {
		t.Fatalf("expected a report entry for the film with sales")
	}
}
