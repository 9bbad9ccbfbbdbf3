package groups

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2/google"
	admin "google.golang.org/api/admin/directory/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/darmiel/trustbroker/internal/buildinfo"
	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/internal/core"
)

const DirectoryType = "directory"

// DefaultDirectoryTimeout bounds one membership lookup, including paging.
const DefaultDirectoryTimeout = 10 * time.Second

// DirectoryResolver resolves Google Groups memberships through the Admin SDK Directory API.
type DirectoryResolver struct {
	svc     *admin.Service
	timeout time.Duration
}

var _ core.GroupResolver = (*DirectoryResolver)(nil)

// DirectoryFromConfig creates the Directory API client. Reading groups of arbitrary users
// needs domain-wide delegation, so a service account key is used with the configured
// admin subject. Application Default Credentials are used without a key file.
func DirectoryFromConfig(ctx context.Context, cfg config.GroupsConfig) (*DirectoryResolver, error) {
	d := cfg.Directory
	opts := []option.ClientOption{option.WithUserAgent(buildinfo.UserAgent("groups"))}
	if d.CredentialsFile != "" {
		data, err := os.ReadFile(d.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("reading directory credentials file: %w", err)
		}
		creds, err := google.CredentialsFromJSONWithParams(ctx, data, google.CredentialsParams{
			Scopes:  []string{admin.AdminDirectoryGroupReadonlyScope},
			Subject: d.Subject,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to parse directory credentials JSON: %w", err)
		}
		opts = append(opts, option.WithCredentials(creds))
	} else {
		opts = append(opts, option.WithScopes(admin.AdminDirectoryGroupReadonlyScope))
	}
	if d.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(d.Endpoint))
	}

	svc, err := admin.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create directory service: %w", err)
	}
	return NewDirectory(svc, cfg.Timeout), nil
}

func NewDirectory(svc *admin.Service, timeout time.Duration) *DirectoryResolver {
	if timeout <= 0 {
		timeout = DefaultDirectoryTimeout
	}
	return &DirectoryResolver{
		svc:     svc,
		timeout: timeout,
	}
}

// GroupsOf lists the group emails member belongs to. A member unknown to the
// directory belongs to no group.
func (d *DirectoryResolver) GroupsOf(ctx context.Context, member string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var groups []string
	err := d.svc.Groups.List().
		UserKey(member).
		Fields("nextPageToken", "groups(email)").
		Pages(ctx, func(page *admin.Groups) error {
			for _, g := range page.Groups {
				groups = append(groups, g.Email)
			}
			return nil
		})
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("listing groups of '%s': %w", member, err)
	}
	return groups, nil
}
