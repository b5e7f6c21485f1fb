package driver

import (
	"context"
	"errors"
	"testing"
	"time"

	"courier-dispatch/internal/apperr"
	"courier-dispatch/internal/domain"
)

const testDriverID = "00000000-0000-4000-8000-000000000050"

type mockDriverRepo struct {
	getFn           func(ctx context.Context, id string) (*domain.Driver, error)
	listFn          func(ctx context.Context, limit, offset *int) ([]domain.Driver, error)
	createFn        func(ctx context.Context, d *domain.Driver) (string, error)
	updatePartialFn func(ctx context.Context, u domain.PartialDriverUpdate) (bool, error)
}

func (m *mockDriverRepo) Get(ctx context.Context, id string) (*domain.Driver, error) {
	return m.getFn(ctx, id)
}

func (m *mockDriverRepo) List(ctx context.Context, limit, offset *int) ([]domain.Driver, error) {
	return m.listFn(ctx, limit, offset)
}

func (m *mockDriverRepo) Create(ctx context.Context, d *domain.Driver) (string, error) {
	return m.createFn(ctx, d)
}

func (m *mockDriverRepo) UpdatePartial(ctx context.Context, u domain.PartialDriverUpdate) (bool, error) {
	return m.updatePartialFn(ctx, u)
}

func TestNewService_Timeouts(t *testing.T) {
	t.Parallel()

	cases := map[time.Duration]time.Duration{
		0:                3 * time.Second,
		-10 * time.Second: 3 * time.Second,
		5 * time.Second:  5 * time.Second,
	}
	for in, want := range cases {
		service := NewService(&mockDriverRepo{}, in)
		if service.operationTimeout != want {
			t.Fatalf("timeout %v: expected %v, got %v", in, want, service.operationTimeout)
		}
	}
}

func TestService_Get_Success(t *testing.T) {
	t.Parallel()

	expected := &domain.Driver{ID: testDriverID, Name: "driver", IsAvailable: true}
	repo := &mockDriverRepo{
		getFn: func(ctx context.Context, id string) (*domain.Driver, error) {
			if id != expected.ID {
				t.Fatalf("expected id %s, got %s", expected.ID, id)
			}
			if _, ok := ctx.Deadline(); !ok {
				t.Fatal("expected operation deadline on context")
			}
			return expected, nil
		},
	}

	got, err := NewService(repo, time.Second).Get(context.Background(), expected.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != expected {
		t.Fatalf("expected %#v, got %#v", expected, got)
	}
}

func TestService_Get_NotFound(t *testing.T) {
	t.Parallel()

	repo := &mockDriverRepo{
		getFn: func(ctx context.Context, id string) (*domain.Driver, error) {
			return nil, nil
		},
	}

	got, err := NewService(repo, time.Second).Get(context.Background(), testDriverID)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected NotFound, got err=%v", err)
	}
	if got != nil {
		t.Fatalf("expected nil driver, got %#v", got)
	}
}

func TestService_Get_InvalidID(t *testing.T) {
	t.Parallel()

	repo := &mockDriverRepo{
		getFn: func(ctx context.Context, id string) (*domain.Driver, error) {
			t.Fatal("Get should not reach the repository")
			return nil, nil
		},
	}

	_, err := NewService(repo, time.Second).Get(context.Background(), "50")
	if !errors.Is(err, apperr.ErrInvalid) {
		t.Fatalf("expected Invalid, got %v", err)
	}
}

func TestService_Get_RepoErrorIsTransient(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("boom")
	repo := &mockDriverRepo{
		getFn: func(ctx context.Context, id string) (*domain.Driver, error) {
			return nil, wantErr
		},
	}

	_, err := NewService(repo, time.Second).Get(context.Background(), testDriverID)
	if !errors.Is(err, wantErr) || !errors.Is(err, apperr.ErrTransient) {
		t.Fatalf("expected transient repo error %v, got %v", wantErr, err)
	}
}

func TestService_List_Success(t *testing.T) {
	t.Parallel()

	limit, offset := 10, 5
	expected := []domain.Driver{
		{ID: testDriverID, Name: "first"},
		{ID: "00000000-0000-4000-8000-000000000051", Name: "second"},
	}
	repo := &mockDriverRepo{
		listFn: func(ctx context.Context, gotLimit, gotOffset *int) ([]domain.Driver, error) {
			if gotLimit == nil || *gotLimit != limit {
				t.Fatalf("expected limit %d, got %v", limit, gotLimit)
			}
			if gotOffset == nil || *gotOffset != offset {
				t.Fatalf("expected offset %d, got %v", offset, gotOffset)
			}
			return expected, nil
		},
	}

	res, err := NewService(repo, time.Second).List(context.Background(), &limit, &offset)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res) != len(expected) {
		t.Fatalf("expected %d items, got %d", len(expected), len(res))
	}
}

func TestService_List_BadPage(t *testing.T) {
	t.Parallel()

	repo := &mockDriverRepo{
		listFn: func(ctx context.Context, limit, offset *int) ([]domain.Driver, error) {
			t.Fatal("List should not be called on invalid paging")
			return nil, nil
		},
	}

	limit := -1
	_, err := NewService(repo, time.Second).List(context.Background(), &limit, nil)
	if !errors.Is(err, apperr.ErrInvalid) {
		t.Fatalf("expected Invalid, got %v", err)
	}
}

func TestService_Create(t *testing.T) {
	t.Parallel()

	var got *domain.Driver
	repo := &mockDriverRepo{
		createFn: func(ctx context.Context, d *domain.Driver) (string, error) {
			got = d
			return testDriverID, nil
		},
	}

	id, err := NewService(repo, time.Second).Create(context.Background(), &domain.Driver{Name: " John ", IsAvailable: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != testDriverID {
		t.Fatalf("expected id %s, got %s", testDriverID, id)
	}
	if got == nil || got.Name != "John" {
		t.Fatalf("expected trimmed name passed to repo, got %#v", got)
	}
}

func TestService_Create_InvalidInput(t *testing.T) {
	t.Parallel()

	repo := &mockDriverRepo{
		createFn: func(ctx context.Context, d *domain.Driver) (string, error) {
			t.Fatal("Create should not be called on invalid input")
			return "", nil
		},
	}

	_, err := NewService(repo, time.Second).Create(context.Background(), &domain.Driver{Name: " "})
	if !errors.Is(err, apperr.ErrInvalid) {
		t.Fatalf("expected Invalid error, got %v", err)
	}
}

func TestService_UpdatePartial(t *testing.T) {
	t.Parallel()

	available := false
	repo := &mockDriverRepo{
		updatePartialFn: func(ctx context.Context, u domain.PartialDriverUpdate) (bool, error) {
			if u.ID != testDriverID || u.IsAvailable == nil || *u.IsAvailable {
				t.Fatalf("unexpected update %#v", u)
			}
			return true, nil
		},
	}

	ok, err := NewService(repo, time.Second).UpdatePartial(context.Background(), domain.PartialDriverUpdate{ID: testDriverID, IsAvailable: &available})
	if err != nil || !ok {
		t.Fatalf("expected ok, got ok=%v err=%v", ok, err)
	}
}

func TestService_UpdatePartial_NotFound(t *testing.T) {
	t.Parallel()

	repo := &mockDriverRepo{
		updatePartialFn: func(ctx context.Context, u domain.PartialDriverUpdate) (bool, error) {
			return false, nil
		},
	}

	name := "Kate"
	_, err := NewService(repo, time.Second).UpdatePartial(context.Background(), domain.PartialDriverUpdate{ID: testDriverID, Name: &name})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
