package sonarr

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Params are the library parameters after name-to-ID resolution. They stay
// fixed for the life of the process.
type Params struct {
	RootFolderPath    string
	RootFolderID      int
	QualityProfileID  int
	LanguageProfileID int // 0 on servers without language profiles
	TagIDs            []int
}

type systemStatus struct {
	Version string `json:"version"`
}

type rootFolder struct {
	ID   int    `json:"id"`
	Path string `json:"path"`
}

type profile struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type tag struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
}

// ValidateConfig resolves the configured root folder, quality profile,
// language profile and tags against the live server. Run once at startup;
// any failure is fatal to the process. The first failing check wins, and its
// message lists the values the server actually offers.
func (c *Client) ValidateConfig(ctx context.Context) error {
	p := &Params{}

	if err := c.validateConnection(ctx); err != nil {
		return err
	}
	if err := c.validateRootFolder(ctx, p); err != nil {
		return err
	}
	if err := c.validateQualityProfile(ctx, p); err != nil {
		return err
	}
	if err := c.validateLanguageProfile(ctx, p); err != nil {
		return err
	}
	if err := c.validateTags(ctx, p); err != nil {
		return err
	}

	c.params = p
	c.log.Info("sonarr configuration validated")
	return nil
}

// ValidatedParams returns the resolved parameters, nil before ValidateConfig
// has succeeded.
func (c *Client) ValidatedParams() *Params { return c.params }

func (c *Client) validateConnection(ctx context.Context) error {
	var st systemStatus
	if err := c.getJSON(ctx, "system/status", &st); err != nil {
		return fmt.Errorf("cannot connect to Sonarr at %s: %w", c.baseURL, err)
	}
	c.version = st.Version
	if c.version == "" {
		c.version = "unknown"
	}
	c.log.Info("connected to sonarr", "version", c.version)
	return nil
}

func (c *Client) validateRootFolder(ctx context.Context, p *Params) error {
	var folders []rootFolder
	if err := c.getJSON(ctx, "rootfolder", &folders); err != nil {
		return fmt.Errorf("fetch root folders: %w", err)
	}
	if len(folders) == 0 {
		return errors.New("no root folders configured in Sonarr")
	}

	paths := make([]string, len(folders))
	for i, f := range folders {
		paths[i] = f.Path
	}

	if id, ok := numericID(c.cfg.RootFolder); ok {
		for _, f := range folders {
			if f.ID == id {
				p.RootFolderPath, p.RootFolderID = f.Path, f.ID
				c.log.Info("using root folder", "path", f.Path, "id", f.ID)
				return nil
			}
		}
		return fmt.Errorf("root folder ID %d not found (available: %s)",
			id, strings.Join(paths, ", "))
	}

	for _, f := range folders {
		if f.Path == c.cfg.RootFolder {
			p.RootFolderPath, p.RootFolderID = f.Path, f.ID
			c.log.Info("using root folder", "path", f.Path, "id", f.ID)
			return nil
		}
	}
	return fmt.Errorf("root folder %q not found (available: %s)",
		c.cfg.RootFolder, strings.Join(paths, ", "))
}

func (c *Client) validateQualityProfile(ctx context.Context, p *Params) error {
	var profiles []profile
	if err := c.getJSON(ctx, "qualityprofile", &profiles); err != nil {
		return fmt.Errorf("fetch quality profiles: %w", err)
	}

	id, err := resolveProfile(profiles, c.cfg.QualityProfile, "quality profile")
	if err != nil {
		return err
	}
	p.QualityProfileID = id
	c.log.Info("using quality profile", "id", id)
	return nil
}

func (c *Client) validateLanguageProfile(ctx context.Context, p *Params) error {
	if strings.HasPrefix(c.version, "4") {
		c.log.Info("sonarr v4 detected, language profiles not required")
		return nil
	}
	if c.cfg.LanguageProfile == "" {
		return errors.New("language_profile is required for Sonarr v3")
	}

	var profiles []profile
	if err := c.getJSON(ctx, "languageprofile", &profiles); err != nil {
		// Endpoint gone means v4+ behind an unparsed version string.
		c.log.Info("language profile endpoint unavailable, assuming Sonarr v4+")
		return nil
	}

	id, err := resolveProfile(profiles, c.cfg.LanguageProfile, "language profile")
	if err != nil {
		return err
	}
	p.LanguageProfileID = id
	c.log.Info("using language profile", "id", id)
	return nil
}

func (c *Client) validateTags(ctx context.Context, p *Params) error {
	if len(c.cfg.Tags) == 0 {
		return nil
	}

	var tags []tag
	if err := c.getJSON(ctx, "tag", &tags); err != nil {
		return fmt.Errorf("fetch tags: %w", err)
	}

	labels := make([]string, len(tags))
	for i, t := range tags {
		labels[i] = fmt.Sprintf("%s (%d)", t.Label, t.ID)
	}

	for _, want := range c.cfg.Tags {
		id, matched := 0, false
		if n, ok := numericID(want); ok {
			for _, t := range tags {
				if t.ID == n {
					id, matched = t.ID, true
					break
				}
			}
		} else {
			for _, t := range tags {
				if strings.EqualFold(t.Label, want) {
					id, matched = t.ID, true
					break
				}
			}
		}
		if !matched {
			return fmt.Errorf("tag %q not found (available: %s)",
				want, strings.Join(labels, ", "))
		}
		p.TagIDs = append(p.TagIDs, id)
	}

	c.log.Info("using tags", "ids", p.TagIDs)
	return nil
}

// resolveProfile matches a selector (case-insensitive name or numeric ID)
// against a profile list.
func resolveProfile(profiles []profile, selector, kind string) (int, error) {
	available := make([]string, len(profiles))
	for i, pr := range profiles {
		available[i] = fmt.Sprintf("%s (%d)", pr.Name, pr.ID)
	}

	if id, ok := numericID(selector); ok {
		for _, pr := range profiles {
			if pr.ID == id {
				return pr.ID, nil
			}
		}
		return 0, fmt.Errorf("%s ID %d not found (available: %s)",
			kind, id, strings.Join(available, ", "))
	}

	for _, pr := range profiles {
		if strings.EqualFold(pr.Name, selector) {
			return pr.ID, nil
		}
	}
	return 0, fmt.Errorf("%s %q not found (available: %s)",
		kind, selector, strings.Join(available, ", "))
}

// numericID reports whether the selector is all digits, and its value.
func numericID(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return id, true
}
