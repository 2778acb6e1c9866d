package database

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/franckalain/plateswipe/internal/models"
)

func newTestRedis(t *testing.T) *RedisDB {
	t.Helper()
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	prefix := fmt.Sprintf("plateswipe-test-%d", time.Now().UnixNano())
	ctx := context.Background()

	s, err := NewRedisDB(ctx, Options{RedisAddr: addr, RedisPrefix: prefix}, nil)
	if err != nil {
		t.Fatalf("NewRedisDB: %v", err)
	}
	t.Cleanup(func() {
		keys, _ := s.rdb.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			s.rdb.Del(ctx, keys...)
		}
		s.Close()
	})
	return s
}

func TestRedisStoreIntegration(t *testing.T) {
	runStoreContract(t, newTestRedis(t))
}

func TestRedisConcurrentAddKeepsOneUID(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()

	const n = 8
	ings := make([]*models.Ingredient, n)
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		ings[i] = &models.Ingredient{Name: "Yogurt", BarCode: models.BarCodePtr(55)}
		wg.Add(1)
		go func(ing *models.Ingredient) {
			defer wg.Done()
			errs <- s.Add(ctx, ing)
		}(ings[i])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	stored, err := s.Get(ctx, 55)
	if err != nil || stored == nil {
		t.Fatalf("Get: got=%v err=%v", stored, err)
	}
	for _, ing := range ings {
		if ing.UID != stored.UID {
			t.Fatalf("UID: want=%q got=%q", stored.UID, ing.UID)
		}
	}
}
