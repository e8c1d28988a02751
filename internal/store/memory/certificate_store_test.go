package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/mcpcerts/internal/models"
	"github.com/wolfeidau/mcpcerts/internal/store"
)

func newCert(t *testing.T, entityID uuid.UUID, start time.Time) *models.Certificate {
	t.Helper()
	id, err := models.NewCertificateID()
	require.NoError(t, err)
	return &models.Certificate{
		ID:        id,
		EntityID:  entityID,
		StartDate: start,
		EndDate:   start.Add(time.Hour),
	}
}

func TestCertificateStore(t *testing.T) {
	ctx := context.Background()
	entityID := uuid.New()
	now := time.Now()

	t.Run("save and get", func(t *testing.T) {
		st := NewCertificateStore()
		remoteID := "42"
		cert := newCert(t, entityID, now)
		cert.RemoteCertID = &remoteID

		require.NoError(t, st.Save(ctx, cert))

		got, err := st.Get(ctx, cert.ID)
		require.NoError(t, err)
		require.Equal(t, "42", got.RemoteID())

		// copies are detached
		*got.RemoteCertID = "changed"
		got.Revoked = true
		again, err := st.Get(ctx, cert.ID)
		require.NoError(t, err)
		require.Equal(t, "42", again.RemoteID())
		require.False(t, again.Revoked)
	})

	t.Run("save replaces", func(t *testing.T) {
		st := NewCertificateStore()
		cert := newCert(t, entityID, now)
		require.NoError(t, st.Save(ctx, cert))

		cert.Revoked = true
		require.NoError(t, st.Save(ctx, cert))

		got, err := st.Get(ctx, cert.ID)
		require.NoError(t, err)
		require.True(t, got.Revoked)
	})

	t.Run("find all by entity ordered by start", func(t *testing.T) {
		st := NewCertificateStore()
		later := newCert(t, entityID, now.Add(time.Hour))
		earlier := newCert(t, entityID, now)
		other := newCert(t, uuid.New(), now)

		for _, c := range []*models.Certificate{later, earlier, other} {
			require.NoError(t, st.Save(ctx, c))
		}

		certs, err := st.FindAllByEntityID(ctx, entityID)
		require.NoError(t, err)
		require.Len(t, certs, 2)
		require.Equal(t, earlier.ID, certs[0].ID)
		require.Equal(t, later.ID, certs[1].ID)
	})

	t.Run("delete and exists", func(t *testing.T) {
		st := NewCertificateStore()
		cert := newCert(t, entityID, now)
		require.NoError(t, st.Save(ctx, cert))

		exists, err := st.Exists(ctx, cert.ID)
		require.NoError(t, err)
		require.True(t, exists)

		require.NoError(t, st.Delete(ctx, cert.ID))
		require.ErrorIs(t, st.Delete(ctx, cert.ID), store.ErrCertNotFound)

		_, err = st.Get(ctx, cert.ID)
		require.ErrorIs(t, err, store.ErrCertNotFound)

		exists, err = st.Exists(ctx, cert.ID)
		require.NoError(t, err)
		require.False(t, exists)
	})
}
