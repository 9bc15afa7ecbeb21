package backend

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/BTreeMap/TemplateDesk/internal/models"
)

// ListWorkspaces lists the workspaces of the signed-in user.
func (c *Client) ListWorkspaces(ctx context.Context, sess *models.SessionContext) ([]models.Workspace, error) {
	var raw json.RawMessage
	if err := c.do(ctx, sess, http.MethodGet, "/workspaces", nil, nil, &raw); err != nil {
		return nil, err
	}
	return decodeList(raw, models.NormalizeWorkspace, "workspace")
}

// ListPhoneBooks lists the phone books of a workspace.
func (c *Client) ListPhoneBooks(ctx context.Context, sess *models.SessionContext, workspaceID string) ([]models.PhoneBook, error) {
	var raw json.RawMessage
	path := "/workspaces/" + url.PathEscape(workspaceID) + "/phonebooks"
	if err := c.do(ctx, sess, http.MethodGet, path, nil, nil, &raw); err != nil {
		return nil, err
	}
	return decodeList(raw, models.NormalizePhoneBook, "phone book")
}

// ListRecipients lists the recipients of a workspace.
func (c *Client) ListRecipients(ctx context.Context, sess *models.SessionContext, workspaceID string) ([]models.Recipient, error) {
	var raw json.RawMessage
	path := "/workspaces/" + url.PathEscape(workspaceID) + "/recipients"
	if err := c.do(ctx, sess, http.MethodGet, path, nil, nil, &raw); err != nil {
		return nil, err
	}
	return decodeList(raw, models.NormalizeRecipient, "recipient")
}

func decodeList[T any](raw json.RawMessage, normalize func(json.RawMessage) (T, error), kind string) ([]T, error) {
	items, err := listItems(raw)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		v, err := normalize(item)
		if err != nil {
			slog.Warn("backend.decodeList: skipping unreadable record", "kind", kind, "error", err)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
