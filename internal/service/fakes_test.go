package service

import (
	"context"
	"sync"

	"credential-sync/internal/model"
)

type fakeProvider struct {
	mu        sync.Mutex
	calls     []string
	link      string
	linkErr   error
	uid       string
	lookupErr error
	updateErr error
	passwords map[string]string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		link:      "https://auth.example.com/reset?oob=abc",
		uid:       "uid-1",
		passwords: map[string]string{},
	}
}

func (p *fakeProvider) RequestResetLink(ctx context.Context, email string) (string, error) {
	p.record("reset-link")
	return p.link, p.linkErr
}

func (p *fakeProvider) LookupByEmail(ctx context.Context, email string) (*model.Identity, error) {
	p.record("lookup")
	if p.lookupErr != nil {
		return nil, p.lookupErr
	}
	return &model.Identity{UID: p.uid, Email: email}, nil
}

func (p *fakeProvider) UpdatePassword(ctx context.Context, uid, password string) error {
	p.record("update")
	if p.updateErr != nil {
		return p.updateErr
	}
	p.mu.Lock()
	p.passwords[uid] = password
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

type mirrorWrite struct {
	email string
	value string
}

type fakeMirror struct {
	mu     sync.Mutex
	writes []mirrorWrite
	err    error
}

func (m *fakeMirror) SetPassword(ctx context.Context, email, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, mirrorWrite{email: email, value: value})
	return m.err
}

type sentMessage struct {
	to      string
	kind    model.TemplateKind
	payload map[string]any
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (d *fakeDispatcher) Send(ctx context.Context, destination string, kind model.TemplateKind, payload map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sentMessage{to: destination, kind: kind, payload: payload})
	return d.err
}

func (d *fakeDispatcher) last() sentMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent[len(d.sent)-1]
}

type recordingObserver struct {
	results []*model.SyncResult
}

func (o *recordingObserver) Observe(ctx context.Context, result *model.SyncResult) {
	o.results = append(o.results, result)
}
