// Package sitedata assembles the data bag shared by every page: the static
// site config, a GitHub profile snapshot and the avatar URL.
package sitedata

import (
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"strings"

	"github.com/keithlinneman/portfolio-web/internal/xerrors"
)

// ErrSocialNotFound is returned by Config.Social for an unknown id.
var ErrSocialNotFound = errors.New("social link not found")

type Social struct {
	ID   string `json:"id"`
	Icon string `json:"icon"`
	Href string `json:"href"`
	Name string `json:"name,omitempty"`
}

// Config is the static site config document. Raw keeps every key of the
// document, including ones not modeled here, for templates.
type Config struct {
	GitHubUsername string   `json:"githubUsername"`
	Email          string   `json:"email"`
	Avatar         string   `json:"avatar,omitempty"`
	SiteURL        string   `json:"siteUrl"`
	Title          string   `json:"title,omitempty"`
	Description    string   `json:"description,omitempty"`
	SocialLinks    []Social `json:"socialLinks"`

	Raw map[string]any `json:"-"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read site config %s", path)
	}
	c, err := ParseConfig(data)
	if err != nil {
		return nil, xerrors.Wrapf(err, "site config %s", path)
	}
	return c, nil
}

func ParseConfig(data []byte) (*Config, error) {
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, xerrors.Wrap(err, "decode")
	}
	if err := json.Unmarshal(data, &c.Raw); err != nil {
		return nil, xerrors.Wrap(err, "decode")
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	var errs []error
	if strings.TrimSpace(c.GitHubUsername) == "" {
		errs = append(errs, errors.New("githubUsername is required"))
	} else if strings.ContainsAny(c.GitHubUsername, "/?#") {
		errs = append(errs, errors.New("githubUsername must be a bare username"))
	}
	if strings.TrimSpace(c.Email) == "" && c.Avatar == "" {
		errs = append(errs, errors.New("email is required when avatar is not set"))
	}
	if u, err := url.Parse(c.SiteURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, errors.New("siteUrl must be an absolute URL"))
	}
	for i, s := range c.SocialLinks {
		if s.ID == "" {
			errs = append(errs, xerrors.Newf("socialLinks[%d]: id is required", i))
		}
	}
	if len(errs) > 0 {
		return xerrors.WithStack(errors.Join(errs...))
	}
	return nil
}

// Social returns the social link with the given id.
func (c *Config) Social(id string) (Social, error) {
	for _, s := range c.SocialLinks {
		if s.ID == id {
			return s, nil
		}
	}
	return Social{}, xerrors.Mark(xerrors.Newf("social link %q", id), ErrSocialNotFound)
}
