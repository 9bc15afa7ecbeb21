package models

import (
	"encoding/json"
	"errors"
)

// ErrInvalidRecord is returned when a directory record is not a JSON object.
var ErrInvalidRecord = errors.New("invalid backend record")

// Workspace is a tenant the signed-in user belongs to.
type Workspace struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subname string `json:"subname,omitempty"`
}

// PhoneBook is a named address book inside a workspace.
type PhoneBook struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Memo string `json:"memo,omitempty"`
}

// Recipient is a contact that templates can be delivered to.
type Recipient struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	Memo        string `json:"memo,omitempty"`
}

// NormalizeWorkspace reads a backend workspace record.
func NormalizeWorkspace(raw json.RawMessage) (Workspace, error) {
	fields, err := objectFields(raw)
	if err != nil {
		return Workspace{}, err
	}
	return Workspace{
		ID:      firstField(fields, []string{"workspaceId", "id"}),
		Name:    firstField(fields, []string{"workspaceName", "name"}),
		Subname: firstField(fields, []string{"workspaceSubname", "subname"}),
	}, nil
}

// NormalizePhoneBook reads a backend phone book record.
func NormalizePhoneBook(raw json.RawMessage) (PhoneBook, error) {
	fields, err := objectFields(raw)
	if err != nil {
		return PhoneBook{}, err
	}
	return PhoneBook{
		ID:   firstField(fields, []string{"phoneBookId", "id"}),
		Name: firstField(fields, []string{"phoneBookName", "name"}),
		Memo: firstField(fields, []string{"phoneBookMemo", "memo"}),
	}, nil
}

// NormalizeRecipient reads a backend recipient record.
func NormalizeRecipient(raw json.RawMessage) (Recipient, error) {
	fields, err := objectFields(raw)
	if err != nil {
		return Recipient{}, err
	}
	return Recipient{
		ID:          firstField(fields, []string{"recipientId", "id"}),
		Name:        firstField(fields, []string{"recipientName", "name"}),
		PhoneNumber: firstField(fields, []string{"recipientPhoneNumber", "phoneNumber", "phone_number"}),
		Memo:        firstField(fields, []string{"recipientMemo", "memo"}),
	}, nil
}

func objectFields(raw json.RawMessage) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, ErrInvalidRecord
	}
	return fields, nil
}
