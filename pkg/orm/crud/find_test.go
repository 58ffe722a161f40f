package crud

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbrain/entitymanagement/internal/nexustest"
	"github.com/openbrain/entitymanagement/pkg/orm/entity"
	"github.com/openbrain/entitymanagement/pkg/orm/query"
)

func putSubject(srv *nexustest.Server, name string, deprecated bool) string {
	return srv.Put(subjects, map[string]interface{}{
		"@type":          "nsg:Subject",
		"name":           name,
		"nxv:deprecated": deprecated,
	})
}

func TestFindBy(t *testing.T) {
	for _, inline := range []bool{false, true} {
		name := "redirect"
		var opts []nexustest.Option
		if inline {
			name = "inline"
			opts = append(opts, nexustest.WithInlineQueries())
		}
		t.Run(name, func(t *testing.T) {
			srv := nexustest.New(opts...)
			defer srv.Close()
			s := newTestStore(t, srv)
			ctx := context.Background()

			var want []string
			for i := 0; i < 3; i++ {
				want = append(want, putSubject(srv, "match", false))
			}
			putSubject(srv, "other", false)
			gone := putSubject(srv, "match", true)

			rs, err := Find[*Subject](ctx, s, query.Props{"name": "match"})
			require.NoError(t, err)

			all, err := rs.All(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, rs.Total())
			require.Len(t, all, 3)

			var got []string
			for _, e := range all {
				sub, ok := e.(*Subject)
				require.True(t, ok)
				assert.False(t, sub.IsMaterialized())
				got = append(got, sub.ID())
			}
			assert.ElementsMatch(t, want, got)
			for _, id := range want {
				assert.Equal(t, 0, srv.Gets(id), "results are not fetched")
			}

			rs, err = Find[*Subject](ctx, s, query.Props{"name": "match"}, FindOptions{IncludeDeprecated: true})
			require.NoError(t, err)
			all, err = rs.All(ctx)
			require.NoError(t, err)
			require.Len(t, all, 4)
			var ids []string
			for _, e := range all {
				ids = append(ids, e.EntityBase().ID())
			}
			assert.Contains(t, ids, gone)
		})
	}
}

func TestFindByPagesLazily(t *testing.T) {
	srv := nexustest.New()
	defer srv.Close()
	s := newTestStore(t, srv)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		putSubject(srv, "match", false)
	}

	sch, err := SchemaFor[*Subject](s)
	require.NoError(t, err)
	rs, err := s.FindBy(ctx, sch, query.Props{"name": "match"})
	require.NoError(t, err)
	assert.Equal(t, 1, srv.Requests("POST"), "the query is submitted right away")
	assert.Equal(t, 0, srv.Requests("GET"))

	require.True(t, rs.Next(ctx))
	assert.Equal(t, 1, srv.Requests("GET"))
	require.True(t, rs.Next(ctx))
	assert.Equal(t, 1, srv.Requests("GET"))
	require.True(t, rs.Next(ctx))
	assert.Equal(t, 2, srv.Requests("GET"))
}

func TestFindByRejectsEmptyFilter(t *testing.T) {
	srv := nexustest.New()
	defer srv.Close()
	s := newTestStore(t, srv)

	_, err := Find[*Subject](context.Background(), s, nil)
	assert.Error(t, err)
	assert.Equal(t, 0, srv.Requests(""))
}

func TestFindUnique(t *testing.T) {
	errCreate := errors.New("create failed")

	tests := []struct {
		name      string
		matches   int
		opts      func(calls *int) UniqueOptions
		wantErr   error
		wantNil   bool
		wantCalls int
	}{
		{
			name:    "one match",
			matches: 1,
			opts:    func(*int) UniqueOptions { return UniqueOptions{} },
		},
		{
			name:    "no match",
			opts:    func(*int) UniqueOptions { return UniqueOptions{} },
			wantNil: true,
		},
		{
			name:    "no match with throw",
			opts:    func(*int) UniqueOptions { return UniqueOptions{Throw: true} },
			wantErr: ErrNoResult,
		},
		{
			name: "throw wins over callback",
			opts: func(calls *int) UniqueOptions {
				return UniqueOptions{Throw: true, OnNoResult: func(context.Context) (entity.Entity, error) {
					*calls++
					return nil, nil
				}}
			},
			wantErr: ErrNoResult,
		},
		{
			name: "callback result is returned",
			opts: func(calls *int) UniqueOptions {
				return UniqueOptions{OnNoResult: func(context.Context) (entity.Entity, error) {
					*calls++
					return &Subject{Name: "created"}, nil
				}}
			},
			wantCalls: 1,
		},
		{
			name: "callback error",
			opts: func(calls *int) UniqueOptions {
				return UniqueOptions{OnNoResult: func(context.Context) (entity.Entity, error) {
					*calls++
					return nil, errCreate
				}}
			},
			wantErr:   errCreate,
			wantCalls: 1,
		},
		{
			name:    "several matches",
			matches: 2,
			opts: func(calls *int) UniqueOptions {
				return UniqueOptions{Throw: true, OnNoResult: func(context.Context) (entity.Entity, error) {
					*calls++
					return nil, nil
				}}
			},
			wantErr: ErrTooManyResults,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := nexustest.New()
			defer srv.Close()
			s := newTestStore(t, srv)
			sch, err := SchemaFor[*Subject](s)
			require.NoError(t, err)

			for i := 0; i < tt.matches; i++ {
				putSubject(srv, "target", false)
			}
			putSubject(srv, "decoy", false)

			calls := 0
			got, err := s.FindUnique(context.Background(), sch, query.Props{"name": "target"}, tt.opts(&calls))
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			assert.IsType(t, &Subject{}, got)
		})
	}
}

// advance moves clk past n poll waits, one at a time
func advance(clk *testclock.Clock, d time.Duration, n int) <-chan error {
	done := make(chan error, 1)
	go func() {
		for i := 0; i < n; i++ {
			if err := clk.WaitAdvance(d, 5*time.Second, 1); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	return done
}

func TestFindUniquePollsUntilVisible(t *testing.T) {
	var srv *nexustest.Server
	var created string
	srv = nexustest.New(nexustest.WithQueryHook(func(n int) {
		// the created resource only shows up in the third query
		if n == 3 {
			created = putSubject(srv, "target", false)
		}
	}))
	defer srv.Close()
	s := newTestStore(t, srv)
	clk := testclock.NewClock(time.Now())
	s.clock = clk
	sch, err := SchemaFor[*Subject](s)
	require.NoError(t, err)

	// the first poll attempt runs right away, the second after one wait
	waits := advance(clk, s.pollInterval, 1)
	calls := 0
	got, err := s.FindUnique(context.Background(), sch, query.Props{"name": "target"}, UniqueOptions{
		OnNoResult: func(context.Context) (entity.Entity, error) {
			calls++
			return &Subject{Name: "target"}, nil
		},
		PollUntilExists: true,
	})
	require.NoError(t, err)
	require.NoError(t, <-waits)
	assert.Equal(t, 1, calls)
	require.NotNil(t, got)
	assert.Equal(t, created, got.EntityBase().ID())
	assert.Equal(t, 3, srv.Requests("POST"))
}

func TestFindUniquePollTimeout(t *testing.T) {
	srv := nexustest.New()
	defer srv.Close()
	s := newTestStore(t, srv)
	clk := testclock.NewClock(time.Now())
	s.clock = clk
	sch, err := SchemaFor[*Subject](s)
	require.NoError(t, err)

	waits := advance(clk, s.pollInterval, s.pollAttempts-1)
	_, err = s.FindUnique(context.Background(), sch, query.Props{"name": "never"}, UniqueOptions{
		OnNoResult:      func(context.Context) (entity.Entity, error) { return nil, nil },
		PollUntilExists: true,
	})
	assert.ErrorIs(t, err, ErrPollTimeout)
	require.NoError(t, <-waits)
	assert.Equal(t, 1+s.pollAttempts, srv.Requests("POST"))
}

func TestFindUniquePollStopsOnCancel(t *testing.T) {
	srv := nexustest.New()
	defer srv.Close()
	s := newTestStore(t, srv)
	s.clock = testclock.NewClock(time.Now())
	sch, err := SchemaFor[*Subject](s)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	_, err = s.FindUnique(ctx, sch, query.Props{"name": "never"}, UniqueOptions{
		OnNoResult: func(context.Context) (entity.Entity, error) {
			cancel()
			return nil, nil
		},
		PollUntilExists: true,
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFindUniquePollStopsWhileWaiting(t *testing.T) {
	srv := nexustest.New()
	defer srv.Close()
	s := newTestStore(t, srv)
	clk := testclock.NewClock(time.Now())
	s.clock = clk
	sch, err := SchemaFor[*Subject](s)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		// cancel once the poll sleeps on the clock, which is never advanced
		<-clk.Alarms()
		cancel()
	}()

	_, err = s.FindUnique(ctx, sch, query.Props{"name": "never"}, UniqueOptions{
		OnNoResult:      func(context.Context) (entity.Entity, error) { return nil, nil },
		PollUntilExists: true,
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, srv.Requests("POST"))
}
