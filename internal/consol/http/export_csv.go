package http

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const (
	csvFlushEvery = 200
	csvBufferSize = 32 * 1024
)

type csvStreamer struct {
	buf          *bufio.Writer
	csv          *csv.Writer
	flushEvery   int
	pendingLines int
}

func newCSVStreamer(w io.Writer) *csvStreamer {
	buf := bufio.NewWriterSize(w, csvBufferSize)
	writer := csv.NewWriter(buf)
	writer.UseCRLF = true
	return &csvStreamer{buf: buf, csv: writer, flushEvery: csvFlushEvery}
}

func (s *csvStreamer) writeComment(line string) error {
	if s == nil || s.buf == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	if !strings.HasSuffix(line, "\r\n") {
		line = strings.TrimSuffix(line, "\n")
		line += "\r\n"
	}
	_, err := s.buf.WriteString(line)
	return err
}

func (s *csvStreamer) writeRow(row []string) error {
	if s == nil || s.csv == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	if err := s.csv.Write(row); err != nil {
		return err
	}
	s.pendingLines++
	if s.flushEvery > 0 && s.pendingLines >= s.flushEvery {
		return s.Flush()
	}
	return nil
}

func (s *csvStreamer) Flush() error {
	if s == nil || s.csv == nil || s.buf == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	s.csv.Flush()
	if err := s.csv.Error(); err != nil {
		return err
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	s.pendingLines = 0
	return nil
}

func (h *Handler) handleExportBalancesCSV(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.runID(w, r)
	if !ok {
		return
	}
	run, err := h.service.GetRun(r.Context(), runID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	lines, err := h.service.Balances(r.Context(), runID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=consolidated_tb_%s.csv", run.Period))

	s := newCSVStreamer(w)
	_ = s.writeComment(fmt.Sprintf("# consolidated trial balance, period %s, run %s, status %s", run.Period, run.ID, run.Status))
	_ = s.writeComment(fmt.Sprintf("# total debits %s / total credits %s", formatAmount(run.Summary.TotalDebits), formatAmount(run.Summary.TotalCredits)))
	_ = s.writeRow([]string{"account_code", "account_name", "debit", "credit", "balance"})
	for _, l := range lines {
		if err := s.writeRow([]string{
			l.AccountCode,
			l.AccountName,
			strconv.FormatFloat(l.Debit, 'f', 2, 64),
			strconv.FormatFloat(l.Credit, 'f', 2, 64),
			strconv.FormatFloat(l.Balance(), 'f', 2, 64),
		}); err != nil {
			h.log().Error("stream balances csv", "error", err.Error())
			return
		}
	}
	if err := s.Flush(); err != nil {
		h.log().Error("flush balances csv", "error", err.Error())
	}
}

func (h *Handler) handleExportEntriesCSV(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.runID(w, r)
	if !ok {
		return
	}
	filter, err := entryFilterFromQuery(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid entry filter", err)
		return
	}
	run, err := h.service.GetRun(r.Context(), runID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	entries, err := h.service.Entries(r.Context(), runID, filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=elimination_ledger_%s.csv", run.Period))

	s := newCSVStreamer(w)
	_ = s.writeComment(fmt.Sprintf("# elimination ledger, period %s, run %s", run.Period, run.ID))
	_ = s.writeRow([]string{"category", "debit_account", "credit_account", "amount", "investor_id", "investee_id", "provenance", "source_link"})
	for _, e := range entries {
		if err := s.writeRow([]string{
			string(e.Category),
			e.DebitAccount,
			e.CreditAccount,
			strconv.FormatFloat(e.Amount, 'f', 2, 64),
			strconv.FormatInt(e.InvestorID, 10),
			strconv.FormatInt(e.InvesteeID, 10),
			string(e.Provenance),
			e.SourceLink,
		}); err != nil {
			h.log().Error("stream entries csv", "error", err.Error())
			return
		}
	}
	if err := s.Flush(); err != nil {
		h.log().Error("flush entries csv", "error", err.Error())
	}
}
