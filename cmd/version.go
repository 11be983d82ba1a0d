package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/nulzo/uniapi/internal/cli"
	"github.com/nulzo/uniapi/internal/httpclient"
	"go.uber.org/zap"
)

// AppVersion is overridden at build time with -ldflags "-X".
var AppVersion = "v0.0.0"

const ReleaseURL = "https://api.github.com/repos/nulzo/uniapi/releases/latest"

type GitHubRelease struct {
	TagName string `json:"tag_name"`
}

// LatestRelease fetches the newest published tag.
func LatestRelease(ctx context.Context, client httpclient.HTTPClient, url string) (string, error) {
	var release GitHubRelease
	headers := map[string]string{"Accept": "application/vnd.github+json"}
	if err := httpclient.SendRequest(ctx, client, http.MethodGet, url, headers, nil, &release); err != nil {
		return "", err
	}
	if release.TagName == "" {
		return "", fmt.Errorf("release at %s has no tag", url)
	}
	return release.TagName, nil
}

// IsOutdated reports whether latest is a newer version than current.
func IsOutdated(current, latest string) (bool, error) {
	cur, err := version.NewVersion(current)
	if err != nil {
		return false, fmt.Errorf("parse current version: %w", err)
	}
	lat, err := version.NewVersion(latest)
	if err != nil {
		return false, fmt.Errorf("parse latest version: %w", err)
	}
	return cur.LessThan(lat), nil
}

// CheckForUpdates warns when a newer release exists. Failures are logged at
// debug level only.
func CheckForUpdates(ctx context.Context, client httpclient.HTTPClient, url string, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	latest, err := LatestRelease(ctx, client, url)
	if err != nil {
		logger.Debug("Update check failed", zap.Error(err))
		return
	}

	outdated, err := IsOutdated(AppVersion, latest)
	if err != nil {
		logger.Debug("Update check failed", zap.Error(err))
		return
	}
	if outdated {
		logger.Warn(fmt.Sprintf("%s You are running an outdated version", cli.WarningSign()),
			zap.String("current", AppVersion),
			zap.String("latest", latest),
		)
	}
}
