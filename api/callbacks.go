/*
callbacks.go - Payment provider callbacks

PURPOSE:
  Entry points providers call after a payer acts. These routes carry no
  user authentication: trust comes only from the payload signature, which
  the gateway adapter verifies inside payment.Reconciler.HandleCallback.

ENDPOINTS:
  GET      /callbacks/redirect/return   Browser returning from the redirect provider
  GET|POST /callbacks/redirect/ipn      Provider server-to-server notification
  POST     /callbacks/qr/webhook        Bank transfer webhook

RESPONSES:
  The return URL answers with the payment for the payer's browser. The IPN
  and the webhook answer in the provider's own envelope ({"RspCode",
  "Message"} and {"success"}) because providers retry based on it.

SEE ALSO:
  - gateway/redirect/redirect.go: Ack codes
  - gateway/qrbank/qrbank.go: Webhook payload
*/
package api

import (
	"io"
	"net/http"

	"github.com/warp/costledger/core"
	"github.com/warp/costledger/gateway"
	"github.com/warp/costledger/gateway/qrbank"
	"github.com/warp/costledger/gateway/redirect"
)

// maxCallbackBody bounds what a provider may post.
const maxCallbackBody = 64 << 10

// RedirectReturn handles the payer's browser coming back from the provider.
// GET /callbacks/redirect/return
func (h *Handler) RedirectReturn(w http.ResponseWriter, r *http.Request) {
	out, err := h.Payments.HandleCallback(r.Context(), core.MethodRedirectGateway, gateway.Callback{
		Kind:    gateway.CallbackReturn,
		Query:   r.URL.Query(),
		Headers: r.Header,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := CallbackResultDTO{Payment: toPaymentDTO(out.Payment), Duplicate: out.Duplicate}
	if out.Split != nil {
		dto := toSplitDTO(*out.Split)
		resp.Split = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// RedirectIPN handles the provider's server-to-server notification. The
// provider reads RspCode, so the HTTP status is always 200.
// GET|POST /callbacks/redirect/ipn
func (h *Handler) RedirectIPN(w http.ResponseWriter, r *http.Request) {
	cb := gateway.Callback{
		Kind:    gateway.CallbackNotify,
		Query:   r.URL.Query(),
		Headers: r.Header,
	}
	if r.Method == http.MethodPost {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
		if err != nil {
			writeJSON(w, http.StatusOK, redirect.Ack(err, false))
			return
		}
		cb.Body = body
	}

	out, err := h.Payments.HandleCallback(r.Context(), core.MethodRedirectGateway, cb)
	duplicate := err == nil && out.Duplicate
	if err != nil && statusFor(err) >= http.StatusInternalServerError {
		h.logger.Error("ipn failed", "error", err)
	}
	writeJSON(w, http.StatusOK, redirect.Ack(err, duplicate))
}

// QRWebhook handles the bank's incoming-transfer webhook. Transfers that
// are not for us are acknowledged so the bank stops retrying; a retryable
// failure answers 503 so it tries again.
// POST /callbacks/qr/webhook
func (h *Handler) QRWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, qrbank.WebhookAck{Success: false})
		return
	}

	_, err = h.Payments.HandleCallback(r.Context(), core.MethodQRBankTransfer, gateway.Callback{
		Kind:    gateway.CallbackWebhook,
		Body:    body,
		Headers: r.Header,
	})

	ack := qrbank.Ack(err)
	status := http.StatusOK
	if !ack.Success {
		status = statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("webhook failed", "error", err)
		}
	}
	writeJSON(w, status, ack)
}
