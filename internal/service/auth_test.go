package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

type mockAuthRepo struct {
	UserExistsFunc   func(ctx context.Context, login string) (bool, error)
	RegisterUserFunc func(ctx context.Context, login string, at time.Time) (bool, error)
	TouchUserFunc    func(ctx context.Context, login string, at time.Time) error
}

func (m *mockAuthRepo) UserExists(ctx context.Context, login string) (bool, error) {
	return m.UserExistsFunc(ctx, login)
}
func (m *mockAuthRepo) RegisterUser(ctx context.Context, login string, at time.Time) (bool, error) {
	return m.RegisterUserFunc(ctx, login, at)
}
func (m *mockAuthRepo) TouchUser(ctx context.Context, login string, at time.Time) error {
	return m.TouchUserFunc(ctx, login, at)
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestUserExists_Success(t *testing.T) {
	want := true
	repo := &mockAuthRepo{
		UserExistsFunc: func(ctx context.Context, login string) (bool, error) {
			if login != "bob" {
				t.Errorf("UserExists received login = %q; want %q", login, "bob")
			}
			return want, nil
		},
	}
	svc := NewAuthService(repo)

	got, err := svc.UserExists(context.Background(), "bob")
	if err != nil {
		t.Fatalf("UserExists returned error: %v", err)
	}
	if got != want {
		t.Errorf("UserExists = %v; want %v", got, want)
	}
}

func TestRegisterUser_Success(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	called := false
	repo := &mockAuthRepo{
		UserExistsFunc: func(ctx context.Context, login string) (bool, error) { return false, nil },
		RegisterUserFunc: func(ctx context.Context, login string, at time.Time) (bool, error) {
			called = true
			if login != "carol" {
				t.Errorf("RegisterUser received login = %q; want %q", login, "carol")
			}
			if !at.Equal(now) {
				t.Errorf("RegisterUser received at = %v; want %v", at, now)
			}
			return true, nil
		},
	}
	svc := NewAuthService(repo)
	svc.now = fixedClock(now)

	if err := svc.RegisterUser(context.Background(), " carol "); err != nil {
		t.Fatalf("RegisterUser returned error: %v", err)
	}
	if !called {
		t.Fatal("expected RegisterUser to be called on repo")
	}
}

func TestRegisterUser_AlreadyExists(t *testing.T) {
	repo := &mockAuthRepo{
		UserExistsFunc: func(ctx context.Context, login string) (bool, error) { return true, nil },
		RegisterUserFunc: func(ctx context.Context, login string, at time.Time) (bool, error) {
			t.Fatal("RegisterUser must not be called for an existing login")
			return false, nil
		},
	}
	svc := NewAuthService(repo)

	if err := svc.RegisterUser(context.Background(), "dave"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("RegisterUser error = %v; want %v", err, ErrUserExists)
	}
}

func TestRegisterUser_Error(t *testing.T) {
	wantErr := errors.New("insert failed")
	repo := &mockAuthRepo{
		UserExistsFunc: func(ctx context.Context, login string) (bool, error) { return false, nil },
		RegisterUserFunc: func(ctx context.Context, login string, at time.Time) (bool, error) {
			return false, wantErr
		},
	}
	svc := NewAuthService(repo)

	err := svc.RegisterUser(context.Background(), "dave")
	if err != wantErr {
		t.Fatalf("RegisterUser error = %v; want %v", err, wantErr)
	}
}

func TestRegisterUser_LostRace(t *testing.T) {
	repo := &mockAuthRepo{
		UserExistsFunc: func(ctx context.Context, login string) (bool, error) { return false, nil },
		RegisterUserFunc: func(ctx context.Context, login string, at time.Time) (bool, error) {
			return false, nil
		},
	}
	svc := NewAuthService(repo)

	if err := svc.RegisterUser(context.Background(), "race"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("RegisterUser error = %v; want %v", err, ErrUserExists)
	}
}

func TestLogin_TouchesUser(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	var touched string
	repo := &mockAuthRepo{
		TouchUserFunc: func(ctx context.Context, login string, at time.Time) error {
			touched = login
			if !at.Equal(now) {
				t.Errorf("TouchUser received at = %v; want %v", at, now)
			}
			return nil
		},
	}
	svc := NewAuthService(repo)
	svc.now = fixedClock(now)

	if err := svc.Login(context.Background(), "erin"); err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if touched != "erin" {
		t.Errorf("TouchUser login = %q; want %q", touched, "erin")
	}
}
