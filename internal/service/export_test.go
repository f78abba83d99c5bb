package service

import "time"

func SetTxRetention(w *TxWatcher, d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.retain = d
}

func ConfirmedHashes(w *TxWatcher) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.confirmed)
}
