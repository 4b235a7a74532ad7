package capture

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMockSource_EndsAfterTotal(t *testing.T) {
	src := NewMockSource(3, WithSize(100, 200))
	ctx := context.Background()

	for want := uint64(1); want <= 3; want++ {
		f, err := src.Next(ctx)
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		if f.Seq != want || f.Width != 100 || f.Height != 200 {
			t.Errorf("frame = %+v", f)
		}
	}

	if _, err := src.Next(ctx); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("Next() error = %v, want ErrEndOfStream", err)
	}
	if src.Delivered() != 3 {
		t.Errorf("Delivered() = %d, want 3", src.Delivered())
	}
}

func TestMockSource_Close(t *testing.T) {
	src := NewMockSource(-1)
	if err := src.Close(); err != nil {
		t.Fatal(err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	if _, err := src.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Next() error = %v, want ErrClosed", err)
	}
}

func TestMockSource_CloseWakesNext(t *testing.T) {
	src := NewMockSource(-1, WithInterval(time.Hour))
	errCh := make(chan error, 1)

	go func() {
		_, err := src.Next(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	src.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("error = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not wake Next")
	}
}

func TestMockSource_ContextCancel(t *testing.T) {
	src := NewMockSource(-1, WithInterval(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := src.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next() error = %v, want deadline exceeded", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Width != 900 || cfg.Height != 1600 || !cfg.Realtime {
		t.Errorf("DefaultConfig() = %+v", cfg)
	}
}
