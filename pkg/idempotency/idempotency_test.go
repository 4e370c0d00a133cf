package idempotency_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/relay/pkg/idempotency"
)

type invitation struct {
	TrainerID string `json:"trainer_id"`
	Email     string `json:"email"`
	Seats     int    `json:"seats"`
}

func TestCanonicalJSON(t *testing.T) {
	t.Parallel()

	a, err := idempotency.CanonicalJSON([]byte(`{ "b": 1, "a": {"y": 2.50, "x": "<x>"} }`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"x":"<x>","y":2.50},"b":1}`, string(a))

	_, err = idempotency.CanonicalJSON([]byte(`{broken`))
	assert.Error(t, err)
}

func TestKey(t *testing.T) {
	t.Parallel()

	t.Run("identical commands hash identically", func(t *testing.T) {
		t.Parallel()

		p1, err := idempotency.Canonical(invitation{TrainerID: "t1", Email: "a@b.c", Seats: 1})
		require.NoError(t, err)
		p2, err := idempotency.CanonicalJSON([]byte(`{"seats":1,"email":"a@b.c","trainer_id":"t1"}`))
		require.NoError(t, err)

		k1, err := idempotency.Key("invitation.created", p1)
		require.NoError(t, err)
		k2, err := idempotency.Key("invitation.created", p2)
		require.NoError(t, err)

		assert.Equal(t, k1, k2)
		assert.Len(t, k1, 64)
	})

	t.Run("discriminator participates", func(t *testing.T) {
		t.Parallel()

		p, err := idempotency.Canonical(invitation{TrainerID: "t1"})
		require.NoError(t, err)

		k1, _ := idempotency.Key("invitation.created", p)
		k2, _ := idempotency.Key("invitation.revoked", p)
		assert.NotEqual(t, k1, k2)
	})

	t.Run("payload participates", func(t *testing.T) {
		t.Parallel()

		p1, _ := idempotency.Canonical(invitation{TrainerID: "t1"})
		p2, _ := idempotency.Canonical(invitation{TrainerID: "t2"})

		k1, _ := idempotency.Key("invitation.created", p1)
		k2, _ := idempotency.Key("invitation.created", p2)
		assert.NotEqual(t, k1, k2)
	})

	t.Run("empty discriminator", func(t *testing.T) {
		t.Parallel()

		_, err := idempotency.Key(" ", []byte(`{}`))
		assert.ErrorIs(t, err, idempotency.ErrEmptyDiscriminator)
	})

	t.Run("separator in discriminator", func(t *testing.T) {
		t.Parallel()

		// Without the check, "a\x1f{}" + "{}" and "a" + "{}\x1f{}" would hash the same bytes.
		_, err := idempotency.Key("a\x1f{}", []byte(`{}`))
		assert.ErrorIs(t, err, idempotency.ErrInvalidDiscriminator)
		assert.NoError(t, idempotency.ValidateDiscriminator("invitation.created"))
	})
}
