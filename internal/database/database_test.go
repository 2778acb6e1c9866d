package database

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/franckalain/plateswipe/internal/models"
)

func newTestSQLite(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "plateswipe.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLiteDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, newTestSQLite(t))
}

func TestSQLiteSearchEscapesWildcards(t *testing.T) {
	db := newTestSQLite(t)
	ctx := context.Background()
	for _, name := range []string{"100% juice", "1000 island"} {
		if err := db.Add(ctx, &models.Ingredient{Name: name}); err != nil {
			t.Fatalf("Add(%q): %v", name, err)
		}
	}
	got, err := db.Search(ctx, "100%", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Name != "100% juice" {
		t.Fatalf("Search(100%%): got=%v", names(got))
	}
}

func TestSQLiteConcurrentBackfillIsIdempotent(t *testing.T) {
	db := newTestSQLite(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- db.Add(ctx, &models.Ingredient{Name: "Yogurt", BarCode: models.BarCodePtr(55)})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	got, err := db.Search(ctx, "yogurt", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("rows: want=1 got=%d", len(got))
	}
}

func TestOpenRejectsUnknownStore(t *testing.T) {
	if _, err := Open(context.Background(), "firestore", Options{}, nil); err == nil {
		t.Fatalf("Open: expected error for unknown store type")
	}
}

// runStoreContract checks the behaviour every primary store must provide.
func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	if got, err := s.Get(ctx, 3017620422003); err != nil || got != nil {
		t.Fatalf("Get on empty store: got=%v err=%v", got, err)
	}

	nutella := &models.Ingredient{
		BarCode:    models.BarCodePtr(3017620422003),
		Name:       "Nutella",
		Brands:     "Ferrero",
		Quantity:   "400g",
		Categories: []string{"Spreads", "Sweet spreads"},
		Images:     map[models.ImageSize]string{models.ImageSmall: "https://img/small.jpg"},
	}
	if err := s.Add(ctx, nutella); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if nutella.UID == "" {
		t.Fatalf("Add: UID not assigned")
	}
	uid := nutella.UID

	got, err := s.Get(ctx, 3017620422003)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatalf("Get: expected a hit")
	}
	if got.UID != uid || got.Name != "Nutella" || got.Brands != "Ferrero" || got.Quantity != "400g" {
		t.Fatalf("Get: got=%+v", got)
	}
	if len(got.Categories) != 2 || got.Images[models.ImageSmall] != "https://img/small.jpg" {
		t.Fatalf("Get: attributes lost: %+v", got)
	}

	// upsert keeps the identity and replaces attributes
	update := &models.Ingredient{BarCode: models.BarCodePtr(3017620422003), Name: "Nutella", Quantity: "750g"}
	if err := s.Add(ctx, update); err != nil {
		t.Fatalf("Add (upsert): %v", err)
	}
	if update.UID != uid {
		t.Fatalf("upsert UID: want=%q got=%q", uid, update.UID)
	}
	got, _ = s.Get(ctx, 3017620422003)
	if got.Quantity != "750g" {
		t.Fatalf("upsert Quantity: want=%q got=%q", "750g", got.Quantity)
	}

	batch := []*models.Ingredient{
		{Name: "Nut butter", BarCode: models.BarCodePtr(11)},
		{Name: "Peanuts"},
		{Name: "Coconut milk", BarCode: models.BarCodePtr(12)},
		{Name: "Rice"},
	}
	if err := s.AddAll(ctx, batch); err != nil {
		t.Fatalf("AddAll: %v", err)
	}
	for _, ing := range batch {
		if ing.UID == "" {
			t.Fatalf("AddAll: UID not assigned for %q", ing.Name)
		}
	}

	res, err := s.Search(ctx, "NUT", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := []string{"Coconut milk", "Nut butter", "Nutella", "Peanuts"}
	if got := names(res); !equal(got, want) {
		t.Fatalf("Search(NUT): want=%v got=%v", want, got)
	}

	res, err = s.Search(ctx, "nutella", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got := names(res); !equal(got, []string{"Nutella"}) {
		t.Fatalf("Search(nutella): got=%v", got)
	}

	res, err = s.Search(ctx, "nut", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("Search limit: want=2 got=%d", len(res))
	}

	if err := s.Add(ctx, &models.Ingredient{Name: "  "}); err == nil {
		t.Fatalf("Add: expected an error for a nameless ingredient")
	}

	// a failing entry leaves its neighbours stored
	mixed := []*models.Ingredient{
		{Name: "Flour", BarCode: models.BarCodePtr(100)},
		{Name: "", BarCode: models.BarCodePtr(101)},
		{Name: "Sugar", BarCode: models.BarCodePtr(102)},
	}
	if err := s.AddAll(ctx, mixed); err == nil {
		t.Fatalf("AddAll: expected an error for the nameless entry")
	}
	for _, code := range []int64{100, 102} {
		got, err := s.Get(ctx, code)
		if err != nil {
			t.Fatalf("Get(%d): %v", code, err)
		}
		if got == nil {
			t.Fatalf("Get(%d): valid batch entry was not stored", code)
		}
	}
	if got, err := s.Get(ctx, 101); err != nil || got != nil {
		t.Fatalf("Get(101): got=%v err=%v", got, err)
	}
}

func names(ings []*models.Ingredient) []string {
	out := make([]string, len(ings))
	for i, ing := range ings {
		out[i] = ing.Name
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
