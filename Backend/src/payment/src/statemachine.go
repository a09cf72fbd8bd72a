package main

import "strings"

// pending → processing → completed
// pending|processing → failed
// pending|processing → cancelled
// completed → refunded (contre-passation signalée après coup par le provider)
//
// completed/failed/cancelled/refunded sont absorbants : aucun chemin n'en sort,
// sauf completed → refunded. Un webhook en retard ne peut donc jamais
// "dé-terminer" un paiement déjà soldé.

func IsTerminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Advance dit si la transition from → to est permise. Toute écriture de statut
// (webhook, confirm-payment, rafraîchissement du status-check) passe par ici.
func Advance(from, to Status) bool {
	if from == to {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	case StatusCompleted:
		return to == StatusRefunded
	}
	return false
}

// MapProviderStatus traduit le vocabulaire libre des providers vers notre enum
// fermé. Fonction totale : tout libellé inconnu retombe sur pending, jamais sur
// un état terminal.
func MapProviderStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approved", "transferred", "success", "successful", "paid", "completed", "ok":
		return StatusCompleted
	case "declined", "failed", "failure", "error", "expired":
		return StatusFailed
	case "cancelled", "canceled", "refused":
		return StatusCancelled
	case "refunded", "reversed", "chargeback":
		return StatusRefunded
	case "initiated", "accepted", "processing", "in_progress":
		return StatusProcessing
	default:
		return StatusPending
	}
}
