package picker

import (
	"context"
	"errors"
	"testing"
)

type book struct {
	id   string
	name string
}

func testPicker(items []book, err error) Picker[book] {
	return Picker[book]{
		Load:  func(ctx context.Context) ([]book, error) { return items, err },
		Key:   func(b book) string { return b.id },
		Label: func(b book) string { return b.name },
	}
}

func TestOptions(t *testing.T) {
	p := testPicker([]book{{"1", "VIP"}, {"2", "Staff"}}, nil)
	opts, err := p.Options(context.Background())
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	if len(opts) != 2 || opts[1].Key != "2" || opts[1].Label != "Staff" || opts[1].Value.name != "Staff" {
		t.Errorf("unexpected options %+v", opts)
	}
}

func TestResolve(t *testing.T) {
	p := testPicker([]book{{"1", "VIP"}, {"2", "Staff"}}, nil)
	sel, err := p.Resolve(context.Background(), "1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if sel.Cancelled || sel.Value.name != "VIP" || sel.Key != "1" {
		t.Errorf("unexpected selection %+v", sel)
	}

	if _, err := p.Resolve(context.Background(), "9"); !errors.Is(err, ErrUnknownOption) {
		t.Errorf("expected ErrUnknownOption, got %v", err)
	}
	if _, err := p.Resolve(context.Background(), ""); !errors.Is(err, ErrMissingKey) {
		t.Errorf("expected ErrMissingKey, got %v", err)
	}
}

func TestLoadError(t *testing.T) {
	loadErr := errors.New("backend down")
	p := testPicker(nil, loadErr)
	if _, err := p.Options(context.Background()); !errors.Is(err, loadErr) {
		t.Errorf("expected wrapped load error, got %v", err)
	}
	if _, err := p.Resolve(context.Background(), "1"); !errors.Is(err, loadErr) {
		t.Errorf("expected wrapped load error, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	sel := testPicker(nil, nil).Cancel()
	if !sel.Cancelled || sel.Key != "" {
		t.Errorf("unexpected selection %+v", sel)
	}
}
