package depot_test

import (
	"context"
	"strings"
	"testing"

	"depot/internal/depot"
	"depot/internal/model"
	"depot/internal/testutil"
)

const (
	guildID  = "100"
	publicID = "200"
	alice    = "alice"
	bob      = "bob"
)

func here() depot.RequestOrigin {
	return depot.Interactive{Container: publicID, Guild: guildID}
}

func link(itemID string) string {
	return depot.JumpLink(guildID, publicID, itemID)
}

func file(name, body string) depot.Attachment {
	return depot.Attachment{
		Filename:    name,
		ContentType: "application/octet-stream",
		Size:        int64(len(body)),
		Body:        strings.NewReader(body),
	}
}

// consent records consent for every actor.
func consent(t *testing.T, env *testutil.Env, actors ...string) {
	t.Helper()
	for _, a := range actors {
		if err := env.Service.Consent.RecordConsent(context.Background(), a); err != nil {
			t.Fatalf("RecordConsent(%s) error = %v", a, err)
		}
	}
}

// store ingests attachments in store mode on behalf of actor.
func store(t *testing.T, env *testutil.Env, actor string, files ...depot.Attachment) *depot.IngestResult {
	t.Helper()
	res, err := env.Service.Ingest.IngestStored(context.Background(), depot.StoreRequest{
		ActorID:       actor,
		Origin:        here(),
		ContainerName: "builds",
		VersionLabel:  "v1",
		Attachments:   files,
	})
	if err != nil {
		t.Fatalf("IngestStored() error = %v", err)
	}
	return res
}

// reference posts an item into the public container and ingests it in reference mode.
func reference(t *testing.T, env *testutil.Env, actor, password string) *model.Resource {
	t.Helper()
	itemID := env.Channel.AddItem(publicID, actor, "", depot.ItemAttachment{Filename: "notes.txt", Size: 5})
	res, err := env.Service.Ingest.IngestReference(context.Background(), depot.ReferenceRequest{
		ActorID:      actor,
		Origin:       here(),
		Locator:      link(itemID),
		VersionLabel: "v1",
		Password:     password,
	})
	if err != nil {
		t.Fatalf("IngestReference() error = %v", err)
	}
	return res.Resources[0]
}

func thread(t *testing.T, env *testutil.Env) *model.Thread {
	t.Helper()
	th, err := env.Store.GetThreadByPublicID(context.Background(), publicID)
	if err != nil {
		t.Fatalf("GetThreadByPublicID() error = %v", err)
	}
	return th
}

func resources(t *testing.T, env *testutil.Env) []*model.Resource {
	t.Helper()
	th := thread(t, env)
	if th == nil {
		return nil
	}
	list, err := env.Store.ListResourcesByThread(context.Background(), th.ID)
	if err != nil {
		t.Fatalf("ListResourcesByThread() error = %v", err)
	}
	return list
}

func wantCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("error = nil, want code %s", code)
	}
	if !depot.IsCode(err, code) {
		t.Fatalf("error = %v, want code %s", err, code)
	}
}
