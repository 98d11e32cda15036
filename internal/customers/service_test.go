package customers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/db"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/health"
)

func newService(t *testing.T) *Service {
	t.Helper()
	conn, err := db.OpenMemory()
	require.NoError(t, err)
	return NewService(conn)
}

func TestCreate(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx, "u1", Input{Name: "Ana Souza", Phone: "+55 (11) 98888-7777", Email: "ana@example.com", Tags: []string{"vip"}})
	require.NoError(t, err)
	assert.Equal(t, "5511988887777", c.Phone)
	assert.Equal(t, StatusLead, c.Status)

	_, err = svc.Create(ctx, "u1", Input{Name: "Other", Phone: "5511988887777"})
	assert.ErrorIs(t, err, ErrDuplicatePhone)

	_, err = svc.Create(ctx, "u2", Input{Name: "Same phone, other user", Phone: "5511988887777"})
	assert.NoError(t, err)
}

func TestCreate_Validation(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		in    Input
		field string
	}{
		{"missing name", Input{Phone: "5511988887777"}, "name"},
		{"short phone", Input{Name: "A", Phone: "123"}, "phone"},
		{"bad email", Input{Name: "A", Phone: "5511988887777", Email: "not-an-email"}, "email"},
		{"bad status", Input{Name: "A", Phone: "5511988887777", Status: "vip"}, "status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, "u1", tt.in)
			var verr *health.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestListSearchAndFilter(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	for _, in := range []Input{
		{Name: "Ana Souza", Phone: "5511911111111", Email: "ana@example.com", Status: StatusActive},
		{Name: "Bruno Lima", Phone: "5511922222222", Email: "bruno@acme.com"},
		{Name: "Carla Dias", Phone: "5521933333333", Status: StatusActive},
	} {
		_, err := svc.Create(ctx, "u1", in)
		require.NoError(t, err)
	}

	all, total, err := svc.List(ctx, "u1", Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.EqualValues(t, 3, total)

	active, _, err := svc.List(ctx, "u1", Filter{Status: StatusActive})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	byName, _, err := svc.List(ctx, "u1", Filter{Query: "bruno"})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "Bruno Lima", byName[0].Name)

	byPhone, _, err := svc.List(ctx, "u1", Filter{Query: "552193"})
	require.NoError(t, err)
	assert.Len(t, byPhone, 1)

	page, total, err := svc.List(ctx, "u1", Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.EqualValues(t, 3, total)

	other, _, err := svc.List(ctx, "u2", Filter{})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestUpdateDelete(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, "u1", Input{Name: "Ana", Phone: "5511911111111"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "u1", Input{Name: "Bruno", Phone: "5511922222222"})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, "u1", a.ID, Input{Name: "Ana Souza", Phone: "5511911111111", Status: StatusActive})
	require.NoError(t, err)
	assert.Equal(t, "Ana Souza", updated.Name)
	assert.Equal(t, StatusActive, updated.Status)

	_, err = svc.Update(ctx, "u1", a.ID, Input{Name: "Ana", Phone: "5511922222222"})
	assert.ErrorIs(t, err, ErrDuplicatePhone)

	_, err = svc.Update(ctx, "u2", a.ID, Input{Name: "Ana", Phone: "5511911111111"})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.Delete(ctx, "u1", a.ID))
	assert.ErrorIs(t, svc.Delete(ctx, "u1", a.ID), ErrNotFound)
}
