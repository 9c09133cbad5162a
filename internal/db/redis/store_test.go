package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"

	"github.com/kailas-cloud/dicomtags/internal/db"
)

// --- client.go tests ---

func TestPing_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.Result(mock.RedisString("PONG")))

	s := NewStoreForTest(c, "")
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPing_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.ErrorResult(context.DeadlineExceeded))

	s := NewStoreForTest(c, "")
	if err := s.Ping(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestWaitForReady_RetriesUntilPong(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	gomock.InOrder(
		c.EXPECT().Do(gomock.Any(), mock.Match("PING")).Return(mock.ErrorResult(errors.New("connection refused"))),
		c.EXPECT().Do(gomock.Any(), mock.Match("PING")).Return(mock.Result(mock.RedisString("PONG"))),
	)

	s := NewStoreForTest(c, "")
	if err := s.WaitForReady(context.Background(), time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWaitForReady_Timeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().Do(gomock.Any(), mock.Match("PING")).
		Return(mock.ErrorResult(errors.New("connection refused"))).AnyTimes()

	s := NewStoreForTest(c, "")
	err := s.WaitForReady(context.Background(), 120*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestNewStore_RequiresAddrs(t *testing.T) {
	if _, err := NewStore(Config{}); err == nil {
		t.Fatal("expected error for empty addrs")
	}
}

// --- lease.go tests ---

func TestAcquire_Granted(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("SET", "dicomtags:lease:op-1", "worker-a", "NX", "PX", "30000")).
		Return(mock.Result(mock.RedisString("OK")))

	s := NewStoreForTest(c, "dicomtags:")
	ok, err := s.Acquire(context.Background(), "lease:op-1", "worker-a", 30*time.Second)
	if err != nil || !ok {
		t.Fatalf("expected lease, got %v %v", ok, err)
	}
}

func TestAcquire_Held(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "SET" && cmd[1] == "lease:op-1"
		})).
		Return(mock.Result(mock.RedisNil()))

	s := NewStoreForTest(c, "")
	ok, err := s.Acquire(context.Background(), "lease:op-1", "worker-b", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("lease held by another owner must not be granted")
	}
}

func TestAcquire_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), gomock.Any()).
		Return(mock.ErrorResult(errors.New("connection refused")))

	s := NewStoreForTest(c, "")
	_, err := s.Acquire(context.Background(), "lease:op-1", "worker-a", time.Second)

	var dbErr *db.Error
	if !errors.As(err, &dbErr) || dbErr.Op != db.OpLeaseAcquire {
		t.Fatalf("expected db.Error for %s, got %v", db.OpLeaseAcquire, err)
	}
}

func TestRenew(t *testing.T) {
	tests := []struct {
		name  string
		reply int64
		want  bool
	}{
		{"owner", 1, true},
		{"lost", 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			c := mock.NewClient(ctrl)

			c.EXPECT().
				Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
					return cmd[0] == "EVAL" && cmd[1] == renewScript && cmd[2] == "1" &&
						cmd[3] == "lease:op-1" && cmd[4] == "worker-a" && cmd[5] == "5000"
				})).
				Return(mock.Result(mock.RedisInt64(tc.reply)))

			s := NewStoreForTest(c, "")
			ok, err := s.Renew(context.Background(), "lease:op-1", "worker-a", 5*time.Second)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tc.want {
				t.Errorf("expected %v, got %v", tc.want, ok)
			}
		})
	}
}

func TestRelease(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "EVAL" && cmd[1] == releaseScript && cmd[3] == "lease:op-1" && cmd[4] == "worker-a"
		})).
		Return(mock.Result(mock.RedisInt64(1)))

	s := NewStoreForTest(c, "")
	if err := s.Release(context.Background(), "lease:op-1", "worker-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRelease_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), gomock.Any()).
		Return(mock.ErrorResult(context.Canceled))

	s := NewStoreForTest(c, "")
	if err := s.Release(context.Background(), "lease:op-1", "worker-a"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected wrapped context.Canceled, got %v", err)
	}
}
