package pull

import (
	"sync"

	"dataspace.app/orchestrator/internal/model"
)

// credentialWaiters holds delivered credentials by transfer id and one-shot
// channels for callers waiting on ids that have not arrived yet. A channel is
// created on first demand and closed on delivery.
type credentialWaiters struct {
	mu      sync.Mutex
	records map[string]model.CredentialRecord
	waiting map[string]chan struct{}
}

func newCredentialWaiters() *credentialWaiters {
	return &credentialWaiters{
		records: make(map[string]model.CredentialRecord),
		waiting: make(map[string]chan struct{}),
	}
}

// deliver stores rec (last write wins) and wakes anyone waiting for it.
func (w *credentialWaiters) deliver(rec model.CredentialRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.records[rec.TransferProcessID] = rec
	if ch, ok := w.waiting[rec.TransferProcessID]; ok {
		close(ch)
		delete(w.waiting, rec.TransferProcessID)
	}
}

// lookup returns the record if present, otherwise a channel closed on delivery.
func (w *credentialWaiters) lookup(transferID string) (model.CredentialRecord, bool, <-chan struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if rec, ok := w.records[transferID]; ok {
		return rec, true, nil
	}

	ch, ok := w.waiting[transferID]
	if !ok {
		ch = make(chan struct{})
		w.waiting[transferID] = ch
	}
	return model.CredentialRecord{}, false, ch
}
