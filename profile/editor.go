// Package profile holds the profile record and the editor that keeps a user's
// profile in sync while they edit it.
package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"

	"helpmate/auth"
	"helpmate/autosave"
	"helpmate/blob"
	"helpmate/docstore"
	"helpmate/geo"
	"helpmate/geocode"
	"helpmate/livesync"

	"github.com/google/uuid"
)

var (
	ErrSignedOut    = errors.New("profile: no signed-in user")
	ErrNotOpen      = errors.New("profile: editor not open")
	ErrAlreadyOpen  = errors.New("profile: editor already open")
	ErrUnknownField = errors.New("profile: field is not editable")
	ErrAvatarUpload = errors.New("profile: avatar upload failed")
	ErrNoBlobStore  = errors.New("profile: no blob store configured")
)

var editableFields = map[string]bool{
	FieldName:        true,
	FieldPhone:       true,
	FieldAge:         true,
	FieldBio:         true,
	FieldEmail:       true,
	FieldRadiusMiles: true,
}

// EditorOption configures an Editor.
type EditorOption func(*Editor)

func WithGeocoder(g geocode.Geocoder) EditorOption {
	return func(e *Editor) { e.geocoder = g }
}

func WithBlobStore(s blob.Store) EditorOption {
	return func(e *Editor) { e.blobs = s }
}

func WithLogger(logger *slog.Logger) EditorOption {
	return func(e *Editor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithAutosave passes options to the editor's autosave pipeline.
func WithAutosave(opts ...autosave.Option) EditorOption {
	return func(e *Editor) { e.autosaveOpts = append(e.autosaveOpts, opts...) }
}

// WithIDGenerator overrides avatar key generation.
func WithIDGenerator(gen func() string) EditorOption {
	return func(e *Editor) {
		if gen != nil {
			e.idGen = gen
		}
	}
}

// Editor edits the signed-in user's profile. Local edits are debounced into
// merge writes; remote snapshots only fill fields that are blank locally.
type Editor struct {
	session      auth.Session
	store        docstore.Store
	geocoder     geocode.Geocoder
	blobs        blob.Store
	logger       *slog.Logger
	autosaveOpts []autosave.Option
	idGen        func() string
	errs         chan error

	mu       sync.Mutex
	userID   string
	coord    *livesync.Coordinator
	pipeline *autosave.Pipeline
	cancel   func()
	done     chan struct{}
	closed   bool
}

func NewEditor(session auth.Session, store docstore.Store, opts ...EditorOption) *Editor {
	e := &Editor{
		session: session,
		store:   store,
		logger:  slog.Default(),
		idGen:   uuid.NewString,
		errs:    make(chan error, 16),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open loads the profile and starts the live subscription. A missing profile
// is not an error; a failed load is reported on Errors and the subscription
// still starts.
func (e *Editor) Open(ctx context.Context) (Profile, error) {
	userID, ok := e.session.CurrentUserID()
	if !ok {
		return Profile{}, ErrSignedOut
	}

	e.mu.Lock()
	if e.coord != nil || e.closed {
		e.mu.Unlock()
		return Profile{}, ErrAlreadyOpen
	}
	logger := e.logger.With("user_id", userID)
	coord := livesync.New(e.store, docstore.CollectionProfiles, userID, livesync.WithLogger(logger))
	pipeline := autosave.New(e.persistFunc(userID), append([]autosave.Option{
		autosave.WithLogger(logger),
		autosave.WithFailureHandler(e.report),
	}, e.autosaveOpts...)...)
	e.userID = userID
	e.coord = coord
	e.pipeline = pipeline
	e.done = make(chan struct{})
	e.mu.Unlock()

	go e.forward(coord.Errors(), e.done)

	if _, err := coord.Load(ctx); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		logger.Warn("profile load failed, continuing with live updates", "error", err)
	}

	cancel, err := coord.Subscribe(ctx, nil)
	if err != nil {
		e.Close(ctx)
		return Profile{}, err
	}
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	return e.Profile()
}

// Profile returns the current merged profile.
func (e *Editor) Profile() (Profile, error) {
	userID, coord, _, err := e.state()
	if err != nil {
		return Profile{}, err
	}
	return FromFields(docstore.CollectionProfiles, userID, coord.Fields())
}

// Edit records a local change to an editable field and schedules a save.
func (e *Editor) Edit(field string, value any) error {
	if !editableFields[field] {
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	userID, coord, pipeline, err := e.state()
	if err != nil {
		return err
	}
	if s, ok := value.(string); ok {
		value = strings.TrimSpace(s)
	}

	candidate := coord.Fields()
	candidate[field] = value
	if _, err := FromFields(docstore.CollectionProfiles, userID, candidate); err != nil {
		return err
	}

	coord.Set(field, value)
	pipeline.OnChange(coord.Fields())
	return nil
}

// SaveAddress stores a new address and geocodes it once. An address the
// geocoder cannot resolve is still saved, with the location cleared. When
// the geocoder is unavailable and the address is unchanged, the stored
// location is kept.
func (e *Editor) SaveAddress(ctx context.Context, address string) (Profile, error) {
	userID, coord, pipeline, err := e.state()
	if err != nil {
		return Profile{}, err
	}
	address = strings.TrimSpace(address)
	unchanged := strings.TrimSpace(coord.Fields().String(FieldAddress)) == address

	var (
		loc  *geo.Point
		keep bool
	)
	if e.geocoder != nil && address != "" {
		p, gerr := e.geocoder.Geocode(ctx, address)
		switch {
		case gerr == nil:
			loc = &p
		case errors.Is(gerr, geocode.ErrNotFound):
			e.logger.Info("address not geocoded", "user_id", userID)
		default:
			e.report(fmt.Errorf("profile: geocode address: %w", gerr))
			keep = unchanged
		}
	}

	hadLocation := !docstore.IsBlank(coord.Fields()[FieldLocation])
	coord.Set(FieldAddress, address)
	if loc != nil {
		coord.Set(FieldLocation, map[string]any{"lat": loc.Lat, "lng": loc.Lng})
	} else if !keep {
		coord.Clear(FieldLocation)
	}

	if err := pipeline.SaveNow(ctx, coord.Fields()); err != nil {
		return Profile{}, err
	}
	if loc == nil && hadLocation && !keep {
		if err := e.store.Set(ctx, docstore.CollectionProfiles, userID, docstore.Fields{FieldLocation: nil}); err != nil {
			return Profile{}, fmt.Errorf("profile: clear location: %w", err)
		}
	}
	return e.Profile()
}

// ReplaceAvatar uploads a new avatar, records its reference and only then
// deletes the previous blob. A failed upload or record write leaves the
// previous reference in place.
func (e *Editor) ReplaceAvatar(ctx context.Context, r io.Reader, contentType string) (string, error) {
	userID, coord, pipeline, err := e.state()
	if err != nil {
		return "", err
	}
	if e.blobs == nil {
		return "", ErrNoBlobStore
	}
	ext, err := blob.Extension(contentType)
	if err != nil {
		return "", err
	}

	key := path.Join("avatars", userID, e.idGen()+ext)
	ref, err := e.blobs.Put(ctx, key, r, contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAvatarUpload, err)
	}

	previous := coord.Fields().String(FieldAvatarRef)
	coord.Set(FieldAvatarRef, ref)
	if err := pipeline.SaveNow(ctx, coord.Fields()); err != nil {
		coord.Set(FieldAvatarRef, previous)
		e.logger.Warn("avatar uploaded but not recorded, blob orphaned", "ref", ref, "error", err)
		return "", fmt.Errorf("profile: record avatar: %w", err)
	}

	if previous != "" && previous != ref {
		if err := e.blobs.Delete(ctx, previous); err != nil {
			e.logger.Warn("previous avatar not deleted, blob orphaned", "ref", previous, "error", err)
		}
	}
	return ref, nil
}

// Errors delivers load, sync, geocode and persistence failures.
func (e *Editor) Errors() <-chan error {
	return e.errs
}

// Close flushes pending edits and cancels the subscription. Safe to call
// more than once.
func (e *Editor) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	pipeline, cancel, done := e.pipeline, e.cancel, e.done
	e.mu.Unlock()

	var err error
	if pipeline != nil {
		err = pipeline.Close(ctx)
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		close(done)
	}
	return err
}

// SignOut flushes pending edits before ending the session.
func (e *Editor) SignOut(ctx context.Context) error {
	closeErr := e.Close(ctx)
	return errors.Join(closeErr, e.session.SignOut(ctx))
}

func (e *Editor) state() (string, *livesync.Coordinator, *autosave.Pipeline, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.coord == nil || e.closed {
		return "", nil, nil, ErrNotOpen
	}
	return e.userID, e.coord, e.pipeline, nil
}

func (e *Editor) persistFunc(userID string) autosave.PersistFunc {
	return func(ctx context.Context, fields docstore.Fields) error {
		if _, err := FromFields(docstore.CollectionProfiles, userID, fields); err != nil {
			return err
		}
		return e.store.Set(ctx, docstore.CollectionProfiles, userID, fields)
	}
}

func (e *Editor) forward(errs <-chan error, done <-chan struct{}) {
	for {
		select {
		case err := <-errs:
			e.report(err)
		case <-done:
			return
		}
	}
}

func (e *Editor) report(err error) {
	select {
	case e.errs <- err:
	default:
		e.logger.Error("profile error channel full", "error", err)
	}
}
