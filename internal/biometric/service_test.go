package biometric

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civis/internal/audit"
	auditmem "civis/internal/audit/store/memory"
	"civis/internal/crypto/envelope"
	"civis/internal/identity"
	idmem "civis/internal/identity/store/memory"
	"civis/internal/login"
	dErrors "civis/pkg/domain-errors"
	"civis/pkg/requestcontext"
)

type fakeMatcher struct {
	template string
	quality  float64
	score    float64
	err      error

	enrolled [][]string
	matched  []string
}

func (m *fakeMatcher) Enroll(_ context.Context, samples []string) (string, float64, error) {
	if m.err != nil {
		return "", 0, m.err
	}
	m.enrolled = append(m.enrolled, samples)
	return m.template, m.quality, nil
}

func (m *fakeMatcher) Match(_ context.Context, template, sample string) (float64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.matched = append(m.matched, template)
	return m.score, nil
}

type fakeIssuer struct {
	pair *login.TokenPair
	err  error
}

func (i *fakeIssuer) IssueSession(context.Context, *identity.Identity, string, string) (*login.TokenPair, error) {
	return i.pair, i.err
}

type syncAuditor struct {
	sink *auditmem.Store
}

func (a *syncAuditor) Emit(ctx context.Context, e audit.Event) {
	_ = a.sink.Append(ctx, e)
}

type biometricFixture struct {
	svc     *Service
	store   *idmem.Store
	matcher *fakeMatcher
	crypt   *envelope.Service
	auditor *syncAuditor
	rec     *identity.Identity
}

func newBiometricFixture(t *testing.T) *biometricFixture {
	t.Helper()

	crypt, err := envelope.New("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	store := idmem.New()
	rec, err := identity.New("asha@example.org", "Asha Verma", "hash")
	require.NoError(t, err)
	require.NoError(t, store.Create(context.Background(), rec))

	matcher := &fakeMatcher{template: "tpl-1", quality: 0.92, score: 0.95}
	auditor := &syncAuditor{sink: auditmem.New()}

	svc, err := New(store, matcher, crypt, &fakeIssuer{pair: &login.TokenPair{AccessToken: "at", RefreshToken: "rt"}},
		WithAuditPublisher(auditor),
	)
	require.NoError(t, err)

	return &biometricFixture{svc: svc, store: store, matcher: matcher, crypt: crypt, auditor: auditor, rec: rec}
}

func fiveSamples() []string {
	return []string{"s1", "s2", "s3", "s4", "s5"}
}

func (f *biometricFixture) enroll(t *testing.T) {
	t.Helper()
	_, err := f.svc.Enroll(context.Background(), f.rec.ID, EnrollInput{Samples: fiveSamples()})
	require.NoError(t, err)
}

func TestService_Enroll(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path stores an encrypted template", func(t *testing.T) {
		f := newBiometricFixture(t)
		status, err := f.svc.Enroll(ctx, f.rec.ID, EnrollInput{Samples: fiveSamples()})
		require.NoError(t, err)
		assert.True(t, status.Enabled)
		assert.Equal(t, 5, status.SampleCount)

		rec, err := f.store.FindByID(ctx, f.rec.ID)
		require.NoError(t, err)
		assert.NotEqual(t, "tpl-1", rec.Biometric.TemplateEnvelope, "template is not stored in plaintext")

		opened, err := f.crypt.Decrypt(rec.Biometric.TemplateEnvelope)
		require.NoError(t, err)
		assert.Equal(t, "tpl-1", opened)
	})

	t.Run("wrong sample count", func(t *testing.T) {
		f := newBiometricFixture(t)
		_, err := f.svc.Enroll(ctx, f.rec.ID, EnrollInput{Samples: []string{"s1", "s2"}})
		assert.True(t, dErrors.Is(err, dErrors.CodeInvalidInput))
		assert.Empty(t, f.matcher.enrolled, "face service is never called")
	})

	t.Run("empty sample", func(t *testing.T) {
		f := newBiometricFixture(t)
		_, err := f.svc.Enroll(ctx, f.rec.ID, EnrollInput{Samples: []string{"s1", "", "s3", "s4", "s5"}})
		assert.True(t, dErrors.Is(err, dErrors.CodeInvalidInput))
	})

	t.Run("low capture quality", func(t *testing.T) {
		f := newBiometricFixture(t)
		f.matcher.quality = 0.2
		_, err := f.svc.Enroll(ctx, f.rec.ID, EnrollInput{Samples: fiveSamples()})
		assert.True(t, dErrors.Is(err, dErrors.CodeInvalidInput))
	})

	t.Run("face service down", func(t *testing.T) {
		f := newBiometricFixture(t)
		f.matcher.err = errors.New("timeout")
		_, err := f.svc.Enroll(ctx, f.rec.ID, EnrollInput{Samples: fiveSamples()})
		assert.True(t, dErrors.Is(err, dErrors.CodeUnavailable))
	})
}

func TestService_Verify(t *testing.T) {
	ctx := context.Background()

	t.Run("matching score finishes the login", func(t *testing.T) {
		f := newBiometricFixture(t)
		f.enroll(t)

		pair, err := f.svc.Verify(ctx, f.rec.ID, "live-sample", "device", "203.0.113.7")
		require.NoError(t, err)
		assert.Equal(t, "at", pair.AccessToken)
		assert.Equal(t, []string{"tpl-1"}, f.matcher.matched, "matcher sees the decrypted template")
	})

	t.Run("no profile enrolled", func(t *testing.T) {
		f := newBiometricFixture(t)
		_, err := f.svc.Verify(ctx, f.rec.ID, "live-sample", "", "")
		assert.True(t, dErrors.Is(err, dErrors.CodeInvalidState))
	})

	t.Run("score below threshold counts a failure", func(t *testing.T) {
		f := newBiometricFixture(t)
		f.enroll(t)
		f.matcher.score = 0.45

		_, err := f.svc.Verify(ctx, f.rec.ID, "live-sample", "", "")
		require.True(t, dErrors.Is(err, dErrors.CodeFaceMismatch))
		assert.Equal(t, 4, dErrors.MetaOf(err)["attempts_left"])
	})

	t.Run("failures lock the biometric path only", func(t *testing.T) {
		f := newBiometricFixture(t)
		f.enroll(t)
		f.matcher.score = 0.45

		var err error
		for i := 0; i < 5; i++ {
			_, err = f.svc.Verify(ctx, f.rec.ID, "live-sample", "", "")
		}
		require.True(t, dErrors.Is(err, dErrors.CodeFaceAuthLocked), "got %v", err)

		rec, findErr := f.store.FindByID(ctx, f.rec.ID)
		require.NoError(t, findErr)
		assert.False(t, rec.Lockout.IsLockedAt(time.Now()), "account lockout is untouched")

		t.Run("locked profile never reaches the face service", func(t *testing.T) {
			calls := len(f.matcher.matched)
			f.matcher.score = 0.99
			_, err := f.svc.Verify(ctx, f.rec.ID, "live-sample", "", "")
			assert.True(t, dErrors.Is(err, dErrors.CodeFaceAuthLocked))
			assert.Len(t, f.matcher.matched, calls)
		})

		t.Run("lock expires", func(t *testing.T) {
			later := requestcontext.WithTime(ctx, time.Now().Add(16*time.Minute))
			f.matcher.score = 0.99
			_, err := f.svc.Verify(later, f.rec.ID, "live-sample", "", "")
			assert.NoError(t, err)
		})
	})

	t.Run("success resets the failure counter", func(t *testing.T) {
		f := newBiometricFixture(t)
		f.enroll(t)

		f.matcher.score = 0.45
		_, err := f.svc.Verify(ctx, f.rec.ID, "live-sample", "", "")
		require.True(t, dErrors.Is(err, dErrors.CodeFaceMismatch))

		f.matcher.score = 0.95
		_, err = f.svc.Verify(ctx, f.rec.ID, "live-sample", "", "")
		require.NoError(t, err)

		rec, err := f.store.FindByID(ctx, f.rec.ID)
		require.NoError(t, err)
		assert.Zero(t, rec.Biometric.FailureCount)
	})

	t.Run("matcher outage is not a mismatch", func(t *testing.T) {
		f := newBiometricFixture(t)
		f.enroll(t)
		f.matcher.err = errors.New("connection refused")

		_, err := f.svc.Verify(ctx, f.rec.ID, "live-sample", "", "")
		require.True(t, dErrors.Is(err, dErrors.CodeUnavailable))

		rec, findErr := f.store.FindByID(ctx, f.rec.ID)
		require.NoError(t, findErr)
		assert.Zero(t, rec.Biometric.FailureCount, "outage does not count against the user")
	})

	t.Run("tampered template fails closed", func(t *testing.T) {
		f := newBiometricFixture(t)
		f.enroll(t)

		rec, err := f.store.FindByID(ctx, f.rec.ID)
		require.NoError(t, err)
		corrupted := rec.Biometric
		corrupted.TemplateEnvelope = "deadbeef:cafe:0123"
		require.NoError(t, f.store.SetBiometric(ctx, f.rec.ID, corrupted))

		_, err = f.svc.Verify(ctx, f.rec.ID, "live-sample", "", "")
		require.True(t, dErrors.Is(err, dErrors.CodeTamperDetected))

		events, listErr := f.auditor.sink.ListByUser(ctx, f.rec.ID.String())
		require.NoError(t, listErr)
		var tampered bool
		for _, e := range events {
			if e.Action == audit.ActionTamperDetected {
				tampered = true
			}
		}
		assert.True(t, tampered)
	})

	t.Run("threshold boundary", func(t *testing.T) {
		f := newBiometricFixture(t)
		f.enroll(t)
		f.matcher.score = DefaultConfig().MatchThreshold

		_, err := f.svc.Verify(ctx, f.rec.ID, "live-sample", "", "")
		assert.NoError(t, err, "a score equal to the threshold passes")
	})
}

func TestService_DisableAndStatus(t *testing.T) {
	ctx := context.Background()
	f := newBiometricFixture(t)
	f.enroll(t)

	status, err := f.svc.Status(ctx, f.rec.ID)
	require.NoError(t, err)
	assert.True(t, status.Enabled)
	assert.False(t, status.Locked)

	require.NoError(t, f.svc.Disable(ctx, f.rec.ID))

	status, err = f.svc.Status(ctx, f.rec.ID)
	require.NoError(t, err)
	assert.False(t, status.Enabled)

	t.Run("verify after disable", func(t *testing.T) {
		_, err := f.svc.Verify(ctx, f.rec.ID, "live-sample", "", "")
		assert.True(t, dErrors.Is(err, dErrors.CodeInvalidState))
	})
}
