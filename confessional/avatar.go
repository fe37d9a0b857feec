package confessional

import (
	"context"
	"errors"
	"fmt"
	"github.com/disintegration/imaging"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "golang.org/x/image/webp" // discord serves webp avatars
)

// avatarMaxBytes caps the size of a downloaded source avatar
const avatarMaxBytes = 10 << 20

// AvatarAnonymizer produces blurred, fixed-size copies of user avatars,
// used as the thumbnail of anonymous posts. Results are cached on disk
// as `<dir>/<user ID>.png`, and reused for as long as the file exists,
// even if the user later changes their avatar.
type AvatarAnonymizer struct {
	dir       string
	size      int
	blurSigma float64
	timeout   time.Duration
	client    *http.Client
	limiter   *rate.Limiter
	logger    *slog.Logger

	// collapses concurrent first requests for the same user
	group singleflight.Group
}

// NewAvatarAnonymizer returns an AvatarAnonymizer configured by cfg.
// If client is nil, http.DefaultClient is used.
func NewAvatarAnonymizer(
	cfg *AvatarConfig,
	client *http.Client,
	logger *slog.Logger,
) *AvatarAnonymizer {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AvatarAnonymizer{
		dir:       cfg.Dir,
		size:      cfg.Size,
		blurSigma: cfg.BlurSigma,
		timeout:   cfg.FetchTimeout,
		client:    client,
		limiter:   rate.NewLimiter(rate.Limit(cfg.FetchesPerSecond), max(1, int(cfg.FetchesPerSecond))),
		logger:    logger,
	}
}

// Path returns the cache path for the given user's blurred avatar
func (a *AvatarAnonymizer) Path(userID string) string {
	return filepath.Join(a.dir, userID+".png")
}

// Anonymize returns the path to the blurred avatar for the given user,
// creating it from avatarURL if it isn't already cached.
// Any failure to fetch, decode or store the image is returned
// wrapping [ErrAvatarUnavailable].
func (a *AvatarAnonymizer) Anonymize(
	ctx context.Context,
	userID string,
	avatarURL string,
) (string, error) {
	if !isSnowflake(userID) {
		return "", fmt.Errorf("%w: invalid user ID %q", ErrAvatarUnavailable, userID)
	}
	path := a.Path(userID)
	if cached(path) {
		return path, nil
	}

	_, err, shared := a.group.Do(
		userID, func() (any, error) {
			// another caller may have finished while we waited
			if cached(path) {
				return nil, nil
			}
			return nil, a.create(ctx, path, avatarURL)
		},
	)
	if err != nil {
		return "", err
	}
	if shared {
		a.logger.DebugContext(ctx, "shared avatar render", "path", path)
	}
	return path, nil
}

func cached(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// create fetches, blurs and writes the avatar at avatarURL to path
func (a *AvatarAnonymizer) create(
	ctx context.Context,
	path string,
	avatarURL string,
) error {
	if avatarURL == "" {
		return fmt.Errorf("%w: no avatar URL", ErrAvatarUnavailable)
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrAvatarUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, avatarURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAvatarUnavailable, err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: error fetching avatar: %w", ErrAvatarUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf(
			"%w: unexpected status fetching avatar: %s",
			ErrAvatarUnavailable,
			resp.Status,
		)
	}

	img, err := imaging.Decode(io.LimitReader(resp.Body, avatarMaxBytes))
	if err != nil {
		return fmt.Errorf("%w: error decoding avatar: %w", ErrAvatarUnavailable, err)
	}

	blurred := imaging.Blur(
		imaging.Resize(img, a.size, a.size, imaging.Lanczos),
		a.blurSigma,
	)

	if err = os.MkdirAll(a.dir, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %w", ErrAvatarUnavailable, err)
	}

	// write to a temp file and rename, so a reader never sees a
	// partially written image
	tmp, err := os.CreateTemp(a.dir, ".avatar-*.png")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAvatarUnavailable, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if err = imaging.Encode(tmp, blurred, imaging.PNG); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: error encoding avatar: %w", ErrAvatarUnavailable, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrAvatarUnavailable, err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		a.logger.ErrorContext(ctx, "error storing avatar", tint.Err(err), "path", path)
		return fmt.Errorf("%w: %w", ErrAvatarUnavailable, err)
	}
	a.logger.InfoContext(ctx, "created blurred avatar", "path", path)
	return nil
}
