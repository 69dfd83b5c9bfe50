package httpinterface

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/internal/core/application/trade"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/infrastructure/webhook"
)

type handler struct {
	svc        TradeService
	webhookSvc WebhookService
}

type createOfferRequest struct {
	Offer          domain.Offer                 `json:"offer"`
	PaymentAccount domain.PaymentAccountPayload `json:"paymentAccount"`
}

type takeOfferRequest struct {
	Offer              domain.Offer                 `json:"offer"`
	Amount             int64                        `json:"amount"`
	TxFee              int64                        `json:"txFee"`
	TakerFee           int64                        `json:"takerFee"`
	TakerFeeTxID       string                       `json:"takerFeeTxId"`
	PaymentAccount     domain.PaymentAccountPayload `json:"paymentAccount"`
	MediatorAddress    string                       `json:"mediatorAddress"`
	RefundAgentAddress string                       `json:"refundAgentAddress"`
	ArbitratorPubKey   []byte                       `json:"arbitratorPubKey,omitempty"`
}

type fiatSentRequest struct {
	CounterCurrencyTxID string `json:"counterCurrencyTxId"`
	ExtraData           string `json:"extraData"`
}

type withdrawRequest struct {
	Address string `json:"address"`
}

type withdrawResponse struct {
	TxID string `json:"txid,omitempty"`
}

type chatRequest struct {
	Text string `json:"text"`
}

type failRequest struct {
	Reason string `json:"reason"`
}

type addWebhookRequest struct {
	Action   webhook.Action `json:"action"`
	Endpoint string         `json:"endpoint"`
	Secret   string         `json:"secret"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handler) createOffer(w http.ResponseWriter, r *http.Request) {
	var req createOfferRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := h.svc.CreateOffer(r.Context(), req.Offer, req.PaymentAccount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *handler) cancelOffer(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CancelOffer(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) takeOffer(w http.ResponseWriter, r *http.Request) {
	var req takeOfferRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := h.svc.TakeOffer(r.Context(), trade.TakeOfferArgs{
		Offer:              req.Offer,
		Amount:             req.Amount,
		TxFee:              req.TxFee,
		TakerFee:           req.TakerFee,
		TakerFeeTxID:       req.TakerFeeTxID,
		PaymentAccount:     req.PaymentAccount,
		MediatorAddress:    req.MediatorAddress,
		RefundAgentAddress: req.RefundAgentAddress,
		ArbitratorPubKey:   req.ArbitratorPubKey,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *handler) listTrades(w http.ResponseWriter, r *http.Request) {
	collection, err := parseCollection(r.URL.Query().Get("collection"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
		return
	}
	trades, err := h.svc.GetTrades(r.Context(), collection)
	if err != nil {
		writeError(w, err)
		return
	}
	if trades == nil {
		trades = []*domain.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (h *handler) getTrade(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.GetTrade(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *handler) fiatSent(w http.ResponseWriter, r *http.Request) {
	var req fiatSentRequest
	if !decode(w, r, &req) {
		return
	}
	err := h.svc.OnFiatPaymentStarted(
		r.Context(), chi.URLParam(r, "id"), req.CounterCurrencyTxID, req.ExtraData,
	)
	writeEmpty(w, err)
}

func (h *handler) fiatReceived(w http.ResponseWriter, r *http.Request) {
	writeEmpty(w, h.svc.OnFiatPaymentReceived(r.Context(), chi.URLParam(r, "id")))
}

func (h *handler) withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if !decode(w, r, &req) {
		return
	}
	txid, err := h.svc.RequestWithdraw(r.Context(), chi.URLParam(r, "id"), req.Address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawResponse{txid})
}

func (h *handler) requestCancel(w http.ResponseWriter, r *http.Request) {
	writeEmpty(w, h.svc.OnRequestCancelTrade(r.Context(), chi.URLParam(r, "id")))
}

func (h *handler) acceptCancel(w http.ResponseWriter, r *http.Request) {
	writeEmpty(w, h.svc.OnAcceptCancelRequest(r.Context(), chi.URLParam(r, "id")))
}

func (h *handler) rejectCancel(w http.ResponseWriter, r *http.Request) {
	writeEmpty(w, h.svc.OnRejectCancelRequest(r.Context(), chi.URLParam(r, "id")))
}

func (h *handler) openMediation(w http.ResponseWriter, r *http.Request) {
	writeEmpty(w, h.svc.OpenMediation(r.Context(), chi.URLParam(r, "id")))
}

func (h *handler) acceptMediation(w http.ResponseWriter, r *http.Request) {
	writeEmpty(w, h.svc.AcceptMediationResult(r.Context(), chi.URLParam(r, "id")))
}

func (h *handler) rejectMediation(w http.ResponseWriter, r *http.Request) {
	writeEmpty(w, h.svc.RejectMediationResult(r.Context(), chi.URLParam(r, "id")))
}

func (h *handler) openRefund(w http.ResponseWriter, r *http.Request) {
	writeEmpty(w, h.svc.OpenRefund(r.Context(), chi.URLParam(r, "id")))
}

func (h *handler) sendChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decode(w, r, &req) {
		return
	}
	writeEmpty(w, h.svc.SendChatMessage(r.Context(), chi.URLParam(r, "id"), req.Text))
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if !decode(w, r, &req) {
		return
	}
	writeEmpty(w, h.svc.MoveToFailed(r.Context(), chi.URLParam(r, "id"), req.Reason))
}

func (h *handler) unfail(w http.ResponseWriter, r *http.Request) {
	writeEmpty(w, h.svc.UnfailTrade(r.Context(), chi.URLParam(r, "id")))
}

func (h *handler) listWebhooks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.webhookSvc.ListWebhooks())
}

func (h *handler) addWebhook(w http.ResponseWriter, r *http.Request) {
	var req addWebhookRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := h.webhookSvc.AddWebhook(req.Action, req.Endpoint, req.Secret)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *handler) removeWebhook(w http.ResponseWriter, r *http.Request) {
	h.webhookSvc.RemoveWebhook(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func parseCollection(s string) (domain.Collection, error) {
	switch s {
	case "", "pending":
		return domain.CollectionPending, nil
	case "closed":
		return domain.CollectionClosed, nil
	case "failed":
		return domain.CollectionFailed, nil
	default:
		return 0, fmt.Errorf("unknown collection %q", s)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			fmt.Sprintf("invalid request body: %s", err),
		})
		return false
	}
	return true
}

func writeEmpty(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFromError(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).Error("http request failed")
	}
	writeJSON(w, status, errorResponse{err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("failed to write http response")
	}
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, domain.ErrTradeNotFound),
		errors.Is(err, domain.ErrOfferNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTradeNotPending),
		errors.Is(err, domain.ErrTradeNotFailed),
		errors.Is(err, domain.ErrTradeInvalidState),
		errors.Is(err, domain.ErrTradeInvalidRole),
		errors.Is(err, domain.ErrTradeAlreadyExists),
		errors.Is(err, domain.ErrDisputeAlreadyOpen),
		errors.Is(err, domain.ErrDisputeNotAllowed),
		errors.Is(err, domain.ErrCancellationNotAllowed),
		errors.Is(err, domain.ErrCancellationAlreadyRequested),
		errors.Is(err, domain.ErrNoCancellationRequest),
		errors.Is(err, domain.ErrOfferNotAvailable),
		errors.Is(err, trade.ErrOfferUnavailable),
		errors.Is(err, trade.ErrAddressesNotAvailable):
		return http.StatusConflict
	case errors.Is(err, domain.ErrOfferMissingID),
		errors.Is(err, domain.ErrOfferInvalidAmount),
		errors.Is(err, domain.ErrOfferInvalidPrice),
		errors.Is(err, domain.ErrOfferInvalidDeposit),
		errors.Is(err, domain.ErrOfferMissingPaymentMethod),
		errors.Is(err, domain.ErrTradeInvalidTxFee),
		errors.Is(err, domain.ErrPaymentMethodMismatch):
		return http.StatusBadRequest
	case errors.Is(err, trade.ErrTooManyUnconfirmedTxs),
		errors.Is(err, trade.ErrServiceUnavailable),
		errors.Is(err, trade.ErrPeerTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
