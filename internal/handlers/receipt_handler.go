package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/thqlabel/backend/internal/services"
)

type ReceiptHandler struct {
	service *services.ReceiptService
}

func NewReceiptHandler(service *services.ReceiptService) *ReceiptHandler {
	return &ReceiptHandler{service: service}
}

// GetReceipt returns the receipt for one ledger entry
// @Summary Get transaction receipt
// @Description Returns the receipt for a completed ledger entry; owner or admin only
// @Tags receipts
// @Produce json
// @Security BearerAuth
// @Param txId path string true "Ledger entry ID"
// @Success 200 {object} services.Receipt
// @Failure 404 {object} services.ErrorResponse
// @Router /receipt/{txId} [get]
func (h *ReceiptHandler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	role, _ := r.Context().Value("userRole").(string)
	entryID := chi.URLParam(r, "txId")

	receipt, err := h.service.GetReceipt(r.Context(), entryID, userID, role)
	if err != nil {
		services.WriteLedgerError(w, err, "Failed to fetch receipt")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(receipt)
}

// GetReceiptQR returns a QR code image for the receipt
// @Summary Get receipt QR code
// @Description Returns a PNG QR code linking to the receipt; owner or admin only
// @Tags receipts
// @Produce png
// @Security BearerAuth
// @Param txId path string true "Ledger entry ID"
// @Success 200 {file} binary
// @Failure 404 {object} services.ErrorResponse
// @Router /receipt/{txId}/qr [get]
func (h *ReceiptHandler) GetReceiptQR(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	role, _ := r.Context().Value("userRole").(string)
	entryID := chi.URLParam(r, "txId")

	png, err := h.service.GetReceiptQR(r.Context(), entryID, userID, role)
	if err != nil {
		log.Printf("[RECEIPT] QR generation failed for entry %s: %v", entryID, err)
		services.WriteLedgerError(w, err, "Failed to generate QR code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}
