package handler

import (
	"errors"
	"strconv"
	"time"

	"bankledger/internal/ledger"
	"bankledger/internal/service"
	"bankledger/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler 对外 HTTP 接口，只负责协议转换，业务结果由 service 层决定
type Handler struct {
	ledgerService  *service.LedgerService
	extractService *service.ExtractService
	log            *zap.Logger
}

// NewHandler 创建处理器实例
func NewHandler(ledgerService *service.LedgerService, extractService *service.ExtractService, log *zap.Logger) *Handler {
	return &Handler{
		ledgerService:  ledgerService,
		extractService: extractService,
		log:            log,
	}
}

// ============================================================
// 记账
// ============================================================

// TransactionRequest 记账请求，valor 使用指针区分 0 与缺失
type TransactionRequest struct {
	Valor     *int64 `json:"valor" binding:"required,gte=0,lte=4294967295"`
	Tipo      string `json:"tipo" binding:"required,oneof=c d"`
	Descricao string `json:"descricao" binding:"required,min=1,max=10"`
}

type TransactionResponse struct {
	Limite int64 `json:"limite"`
	Saldo  int64 `json:"saldo"`
}

// CreateTransaction 记账
// POST /clientes/:id/transacoes
func (h *Handler) CreateTransaction(c *gin.Context) {
	accountID, ok := parseAccountID(c)
	if !ok {
		return
	}

	var req TransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	kind, err := ledger.ParseKind(req.Tipo)
	if err != nil {
		response.ParamError(c, err.Error())
		return
	}

	applied, err := h.ledgerService.Apply(c.Request.Context(), ledger.Command{
		AccountID:   accountID,
		Kind:        kind,
		Amount:      *req.Valor,
		Description: req.Descricao,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, TransactionResponse{Limite: applied.Limit, Saldo: applied.Balance})
}

// ============================================================
// 对账单
// ============================================================

type BalanceView struct {
	Total       int64     `json:"total"`
	DataExtrato time.Time `json:"data_extrato"`
	Limite      int64     `json:"limite"`
}

type TransactionView struct {
	Valor       int64     `json:"valor"`
	Tipo        string    `json:"tipo"`
	Descricao   string    `json:"descricao"`
	RealizadaEm time.Time `json:"realizada_em"`
}

type ExtractResponse struct {
	Saldo             BalanceView       `json:"saldo"`
	UltimasTransacoes []TransactionView `json:"ultimas_transacoes"`
}

// GetExtract 查询对账单
// GET /clientes/:id/extrato
func (h *Handler) GetExtract(c *gin.Context) {
	accountID, ok := parseAccountID(c)
	if !ok {
		return
	}

	extract, err := h.extractService.GetExtract(c.Request.Context(), accountID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, toExtractResponse(extract))
}

func toExtractResponse(extract ledger.Extract) ExtractResponse {
	views := make([]TransactionView, 0, len(extract.Last))
	for _, rec := range extract.Last {
		views = append(views, TransactionView{
			Valor:       rec.Amount,
			Tipo:        rec.Kind.Code(),
			Descricao:   rec.Description,
			RealizadaEm: rec.AppliedAt,
		})
	}
	return ExtractResponse{
		Saldo: BalanceView{
			Total:       extract.Balance,
			DataExtrato: extract.GeneratedAt,
			Limite:      extract.Limit,
		},
		UltimasTransacoes: views,
	}
}

// parseAccountID 解析路径中的账户 ID，非法 ID 按账户不存在处理
func parseAccountID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.NotFound(c, response.CodeAccountNotFound, "账户不存在")
		return 0, false
	}
	return id, true
}

// writeError 把账本结果映射为 HTTP 状态码
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		response.NotFound(c, response.CodeAccountNotFound, "账户不存在")
	case errors.Is(err, ledger.ErrLimitExceeded):
		response.BusinessError(c, response.CodeLimitExceeded, "超出额度")
	case errors.Is(err, ledger.ErrInvalidCommand):
		response.ParamError(c, err.Error())
	case errors.Is(err, ledger.ErrInvariantViolation):
		response.ServerError(c, response.CodeInvariantViolation, "账户状态异常")
	default:
		h.log.Error("请求处理失败", zap.String("path", c.FullPath()), zap.Error(err))
		response.ServerError(c, response.CodeStorageUnavailable, "服务暂不可用")
	}
}
