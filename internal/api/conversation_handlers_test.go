package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/BTreeMap/TemplateDesk/internal/conversation"
	"github.com/BTreeMap/TemplateDesk/internal/models"
	"github.com/BTreeMap/TemplateDesk/internal/store"
	"github.com/BTreeMap/TemplateDesk/internal/testutil"
)

func TestConversation_RequiresOwnSession(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	owner := env.login(t)
	other := env.login(t)
	id := env.open(t, owner)

	rr := env.do(testutil.CreateHTTPRequest(t, "GET", "/api/conversations/"+id, nil), other)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "foreign session")

	rr = env.do(testutil.CreateHTTPRequest(t, "GET", "/api/conversations/"+id, nil), owner)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "owner")
}

func TestConversation_OpenLoadFailure(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	cookie := env.login(t)

	rr := env.do(testutil.CreateHTTPRequest(t, "POST", "/api/conversations", map[string]string{"workspace_id": "ws1", "template_id": "missing"}), cookie)
	testutil.AssertHTTPStatus(t, http.StatusBadGateway, rr.Code, "load failure")
	var res conversationResult
	testutil.DecodeResult(t, rr, &res)
	if res.State.Ready() {
		t.Error("conversation must not be ready after a failed load")
	}
	if res.State.LoadError != conversation.TemplateLoadFailedMessage {
		t.Errorf("unexpected load error %q", res.State.LoadError)
	}

	// Submissions against a not-ready conversation are ignored.
	rr = env.do(testutil.CreateHTTPRequest(t, "POST", "/api/conversations/"+res.ConversationID+"/messages", map[string]string{"text": "hello"}), cookie)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "submit not ready")
	var submit conversationResult
	testutil.DecodeResult(t, rr, &submit)
	if submit.Result != conversation.SubmitIgnored {
		t.Errorf("expected ignored, got %q", submit.Result)
	}
}

func TestConversation_OpenRequiresIDs(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	cookie := env.login(t)
	rr := env.do(testutil.CreateHTTPRequest(t, "POST", "/api/conversations", map[string]string{"template_id": "t1"}), cookie)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "no workspace")
}

func TestConversation_ExchangeFlow(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	cookie := env.login(t)
	id := env.open(t, cookie)
	base := "/api/conversations/" + id

	submit := func(text string) conversationResult {
		t.Helper()
		rr := env.do(testutil.CreateHTTPRequest(t, "POST", base+"/messages", map[string]string{"text": text}), cookie)
		testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "submit "+text)
		var res conversationResult
		testutil.DecodeResult(t, rr, &res)
		return res
	}

	if res := submit("   "); res.Result != conversation.SubmitIgnored {
		t.Errorf("blank input: expected ignored, got %q", res.Result)
	}

	res := submit("  add emoji \n")
	if res.Result != conversation.SubmitAccepted {
		t.Fatalf("expected accepted, got %q", res.Result)
	}
	if res.State.Template == nil || res.State.Template.Text != "Hello there add emoji" {
		t.Errorf("unexpected template %+v", res.State.Template)
	}
	if len(res.State.Transcript) != 3 {
		t.Fatalf("expected greeting, user and bot entries, got %d", len(res.State.Transcript))
	}

	res = submit("break it")
	if res.Result != conversation.SubmitRejected {
		t.Errorf("expected rejected, got %q", res.Result)
	}
	if res.State.Template.Text != "Hello there add emoji" {
		t.Error("failed exchange must keep the template")
	}
	if res.State.LastError != conversation.ExchangeFailedMessage {
		t.Errorf("unexpected last error %q", res.State.LastError)
	}

	if n := len(env.backend.Created); n != 1 {
		t.Errorf("expected 1 persisted template, got %d", n)
	}

	rr := env.do(testutil.CreateHTTPRequest(t, "GET", base+"/exchanges?limit=10", nil), cookie)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "exchanges")
	var records []models.ExchangeRecord
	testutil.DecodeResult(t, rr, &records)
	if len(records) != 2 {
		t.Fatalf("expected 2 exchange records, got %d", len(records))
	}
	if records[0].Outcome != models.ExchangeRejected || records[1].Outcome != models.ExchangeAccepted {
		t.Errorf("unexpected outcomes %q, %q", records[0].Outcome, records[1].Outcome)
	}
}

func TestConversation_PreviewAndReturn(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	cookie := env.login(t)
	id := env.open(t, cookie)
	base := "/api/conversations/" + id

	for _, text := range []string{"first", "second"} {
		rr := env.do(testutil.CreateHTTPRequest(t, "POST", base+"/messages", map[string]string{"text": text}), cookie)
		testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "submit "+text)
	}

	rr := env.do(testutil.CreateHTTPRequest(t, "POST", base+"/preview", map[string]int{"index": 1}), cookie)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "preview user entry")

	rr = env.do(testutil.CreateHTTPRequest(t, "POST", base+"/preview", map[string]string{}), cookie)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "preview without index")

	rr = env.do(testutil.CreateHTTPRequest(t, "POST", base+"/preview", map[string]int{"index": 2}), cookie)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "preview first snapshot")
	var res conversationResult
	testutil.DecodeResult(t, rr, &res)
	if !res.State.PreviewMode() {
		t.Fatal("expected preview mode")
	}
	if got := res.State.Displayed().Text; got != "Hello there first" {
		t.Errorf("displayed %q, want first snapshot", got)
	}
	if res.State.Template.Text != "Hello there first second" {
		t.Error("preview must not change the canonical template")
	}

	rr = env.do(testutil.CreateHTTPRequest(t, "DELETE", base+"/preview", nil), cookie)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "return to latest")
	res = conversationResult{}
	testutil.DecodeResult(t, rr, &res)
	if res.State.PreviewMode() {
		t.Error("expected preview mode cleared")
	}
}

func TestConversation_Validate(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		env := newTestEnv(t, envConfig{})
		cookie := env.login(t)
		id := env.open(t, cookie)
		rr := env.do(testutil.CreateHTTPRequest(t, "POST", "/api/conversations/"+id+"/validate", nil), cookie)
		testutil.AssertHTTPStatus(t, http.StatusServiceUnavailable, rr.Code, "no validator")
	})

	t.Run("approve", func(t *testing.T) {
		v := testutil.StaticValidator{Result: models.ValidationResult{Result: models.ValidationApprove, Probability: "92%"}}
		env := newTestEnv(t, envConfig{validator: v})
		cookie := env.login(t)
		id := env.open(t, cookie)
		rr := env.do(testutil.CreateHTTPRequest(t, "POST", "/api/conversations/"+id+"/validate", nil), cookie)
		testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "validate")
		var res conversationResult
		testutil.DecodeResult(t, rr, &res)
		if res.Validation == nil || res.Validation.Result != models.ValidationApprove {
			t.Errorf("unexpected validation %+v", res.Validation)
		}
	})

	t.Run("validator error", func(t *testing.T) {
		env := newTestEnv(t, envConfig{validator: testutil.StaticValidator{Err: errors.New("down")}})
		cookie := env.login(t)
		id := env.open(t, cookie)
		rr := env.do(testutil.CreateHTTPRequest(t, "POST", "/api/conversations/"+id+"/validate", nil), cookie)
		testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "validate error")
		var res conversationResult
		testutil.DecodeResult(t, rr, &res)
		if res.Validation == nil || res.Validation.Result != models.ValidationError {
			t.Errorf("expected error verdict, got %+v", res.Validation)
		}
	})
}

func TestConversation_Close(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	cookie := env.login(t)
	id := env.open(t, cookie)

	rr := env.do(testutil.CreateHTTPRequest(t, "DELETE", "/api/conversations/"+id, nil), cookie)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "close")
	rr = env.do(testutil.CreateHTTPRequest(t, "GET", "/api/conversations/"+id, nil), cookie)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "after close")
	rr = env.do(testutil.CreateHTTPRequest(t, "DELETE", "/api/conversations/"+id, nil), cookie)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "close twice")
}

func TestSendTemplate_QueuedToOutbox(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	cookie := env.login(t)
	id := env.open(t, cookie)
	base := "/api/conversations/" + id

	rr := env.do(testutil.CreateHTTPRequest(t, "POST", base+"/send", map[string]string{"to": "abc"}), cookie)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "invalid recipient")

	rr = env.do(testutil.CreateHTTPRequest(t, "POST", base+"/send", map[string]string{"recipient_id": "r1"}), cookie)
	testutil.AssertHTTPStatus(t, http.StatusAccepted, rr.Code, "queue by recipient")
	var queued map[string]string
	testutil.DecodeResult(t, rr, &queued)
	deliveryID := queued["delivery_id"]
	if deliveryID == "" {
		t.Fatal("expected a delivery id")
	}

	// Same content to the same number returns the pending delivery.
	rr = env.do(testutil.CreateHTTPRequest(t, "POST", base+"/send", map[string]string{"to": "+1 (555) 123-4567"}), cookie)
	testutil.AssertHTTPStatus(t, http.StatusAccepted, rr.Code, "queue duplicate")
	var again map[string]string
	testutil.DecodeResult(t, rr, &again)
	if again["delivery_id"] != deliveryID {
		t.Errorf("expected deduplicated delivery %s, got %s", deliveryID, again["delivery_id"])
	}

	rr = env.do(testutil.CreateHTTPRequest(t, "GET", "/api/deliveries/"+deliveryID, nil), cookie)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "get delivery")
	var msg store.OutboxMessage
	testutil.DecodeResult(t, rr, &msg)
	if msg.Recipient != "+15551234567" || msg.Status != store.OutboxStatusQueued {
		t.Errorf("unexpected delivery %+v", msg)
	}

	rr = env.do(testutil.CreateHTTPRequest(t, "GET", "/api/deliveries/outbox_missing", nil), cookie)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "missing delivery")

	if len(env.sender.Sent()) != 0 {
		t.Error("queued deliveries must not be sent inline")
	}
}

func TestSendTemplate_DirectWithoutOutbox(t *testing.T) {
	env := newTestEnv(t, envConfig{noOutbox: true})
	cookie := env.login(t)
	id := env.open(t, cookie)

	rr := env.do(testutil.CreateHTTPRequest(t, "POST", "/api/conversations/"+id+"/send", map[string]string{"to": "+15550001111"}), cookie)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "direct send")
	sent := env.sender.Sent()
	if len(sent) != 1 || sent[0].To != "+15550001111" {
		t.Fatalf("unexpected sent messages %+v", sent)
	}
	if sent[0].Body != "Welcome\n\nHello there" {
		t.Errorf("unexpected body %q", sent[0].Body)
	}

	rr = env.do(testutil.CreateHTTPRequest(t, "GET", "/api/deliveries/outbox_x", nil), cookie)
	testutil.AssertHTTPStatus(t, http.StatusServiceUnavailable, rr.Code, "deliveries without outbox")
}

func TestSendTemplate_NotConfigured(t *testing.T) {
	env := newTestEnv(t, envConfig{noMessaging: true})
	cookie := env.login(t)
	id := env.open(t, cookie)
	rr := env.do(testutil.CreateHTTPRequest(t, "POST", "/api/conversations/"+id+"/send", map[string]string{"to": "+15550001111"}), cookie)
	testutil.AssertHTTPStatus(t, http.StatusServiceUnavailable, rr.Code, "no messaging")
}
