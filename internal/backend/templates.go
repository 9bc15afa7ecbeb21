package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/BTreeMap/TemplateDesk/internal/models"
)

// ListOptions filters and pages a template listing.
type ListOptions struct {
	Page      int
	Size      int
	SortType  string
	Direction string
	Status    models.TemplateStatus
	Query     string
}

func (o ListOptions) values() url.Values {
	v := url.Values{}
	if o.Page > 0 {
		v.Set("page", strconv.Itoa(o.Page))
	}
	if o.Size > 0 {
		v.Set("size", strconv.Itoa(o.Size))
	}
	if o.SortType != "" {
		v.Set("sortType", o.SortType)
	}
	if o.Direction != "" {
		v.Set("direction", o.Direction)
	}
	if o.Status != "" {
		v.Set("status", string(o.Status))
	}
	if o.Query != "" {
		v.Set("q", o.Query)
	}
	return v
}

// GetTemplate fetches one template of a workspace.
func (c *Client) GetTemplate(ctx context.Context, sess *models.SessionContext, workspaceID, templateID string) (models.Template, error) {
	path := "/" + url.PathEscape(workspaceID) + "/templates/" + url.PathEscape(templateID)
	var raw json.RawMessage
	if err := c.do(ctx, sess, http.MethodGet, path, nil, nil, &raw); err != nil {
		return models.Template{}, err
	}
	tmpl, err := models.NormalizeTemplate(unwrapData(raw))
	if err != nil {
		return models.Template{}, fmt.Errorf("template %s/%s: %w", workspaceID, templateID, err)
	}
	if tmpl.ID == "" {
		tmpl.ID = templateID
	}
	if tmpl.WorkspaceID == "" {
		tmpl.WorkspaceID = workspaceID
	}
	slog.Debug("Client.GetTemplate: fetched", "workspace_id", workspaceID, "template_id", templateID)
	return tmpl, nil
}

// CreateTemplate stores t as a new template of the workspace and returns the stored record.
func (c *Client) CreateTemplate(ctx context.Context, sess *models.SessionContext, workspaceID string, t models.Template) (models.Template, error) {
	path := "/templates/" + url.PathEscape(workspaceID)
	var raw json.RawMessage
	if err := c.do(ctx, sess, http.MethodPost, path, nil, t.BackendPayload(), &raw); err != nil {
		return models.Template{}, err
	}
	if len(raw) == 0 {
		return t, nil
	}
	stored, err := models.NormalizeTemplate(unwrapData(raw))
	if err != nil {
		slog.Warn("Client.CreateTemplate: unreadable response, keeping submitted template", "error", err, "workspace_id", workspaceID)
		return t, nil
	}
	if stored.WorkspaceID == "" {
		stored.WorkspaceID = workspaceID
	}
	slog.Debug("Client.CreateTemplate: stored", "workspace_id", workspaceID, "template_id", stored.ID)
	return stored, nil
}

// ListTemplates lists the templates of a workspace.
func (c *Client) ListTemplates(ctx context.Context, sess *models.SessionContext, workspaceID string, opts ListOptions) ([]models.Template, error) {
	path := "/" + url.PathEscape(workspaceID) + "/templates"
	var raw json.RawMessage
	if err := c.do(ctx, sess, http.MethodGet, path, opts.values(), nil, &raw); err != nil {
		return nil, err
	}
	items, err := listItems(raw)
	if err != nil {
		return nil, err
	}
	templates := make([]models.Template, 0, len(items))
	for _, item := range items {
		tmpl, err := models.NormalizeTemplate(item)
		if err != nil {
			slog.Warn("Client.ListTemplates: skipping unreadable template", "error", err, "workspace_id", workspaceID)
			continue
		}
		if tmpl.WorkspaceID == "" {
			tmpl.WorkspaceID = workspaceID
		}
		templates = append(templates, tmpl)
	}
	return templates, nil
}
