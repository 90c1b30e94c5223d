package main

import (
	"fmt"
	"net/http"
)

func (rt *runtime) metricsHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		ws := rt.bridge.Stats()
		fmt.Fprintf(rw, "# HELP cooptrader_ws_sessions Current connected host sessions.\n")
		fmt.Fprintf(rw, "# TYPE cooptrader_ws_sessions gauge\n")
		fmt.Fprintf(rw, "cooptrader_ws_sessions %d\n", ws.Sessions)

		fmt.Fprintf(rw, "# HELP cooptrader_ws_messages_total Total messages received from hosts.\n")
		fmt.Fprintf(rw, "# TYPE cooptrader_ws_messages_total counter\n")
		fmt.Fprintf(rw, "cooptrader_ws_messages_total %d\n", ws.Messages)

		fmt.Fprintf(rw, "# HELP cooptrader_ws_rejected_total Total messages rejected as malformed or unsupported.\n")
		fmt.Fprintf(rw, "# TYPE cooptrader_ws_rejected_total counter\n")
		fmt.Fprintf(rw, "cooptrader_ws_rejected_total %d\n", ws.Rejected)

		fmt.Fprintf(rw, "# HELP cooptrader_trade_errors_total Total trade confirmations that failed.\n")
		fmt.Fprintf(rw, "# TYPE cooptrader_trade_errors_total counter\n")
		fmt.Fprintf(rw, "cooptrader_trade_errors_total %d\n", ws.TradesErr)

		fmt.Fprintf(rw, "# HELP cooptrader_ledger_entries Entries in a trader's ledger.\n")
		fmt.Fprintf(rw, "# TYPE cooptrader_ledger_entries gauge\n")
		fmt.Fprintf(rw, "# HELP cooptrader_ledger_units Stack units held in a trader's ledger.\n")
		fmt.Fprintf(rw, "# TYPE cooptrader_ledger_units gauge\n")
		for _, id := range rt.registry.IDs() {
			t, err := rt.registry.Get(id)
			if err != nil {
				continue
			}
			l, err := t.Ledger()
			if err != nil {
				continue
			}
			units := 0
			for _, e := range l {
				if e.IsStack() {
					units += e.Count
				}
			}
			fmt.Fprintf(rw, "cooptrader_ledger_entries{trader=%q} %d\n", id, len(l))
			fmt.Fprintf(rw, "cooptrader_ledger_units{trader=%q} %d\n", id, units)
		}

		if rt.idx == nil {
			return
		}
		s := rt.idx.Stats()
		fmt.Fprintf(rw, "# HELP cooptrader_index_queue_depth Current index write queue depth.\n")
		fmt.Fprintf(rw, "# TYPE cooptrader_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "cooptrader_index_queue_depth %d\n", s.QueueDepth)

		fmt.Fprintf(rw, "# HELP cooptrader_index_queue_capacity Index write queue capacity.\n")
		fmt.Fprintf(rw, "# TYPE cooptrader_index_queue_capacity gauge\n")
		fmt.Fprintf(rw, "cooptrader_index_queue_capacity %d\n", s.QueueCapacity)

		fmt.Fprintf(rw, "# HELP cooptrader_index_dropped_total Index writes dropped because the queue was full.\n")
		fmt.Fprintf(rw, "# TYPE cooptrader_index_dropped_total counter\n")
		fmt.Fprintf(rw, "cooptrader_index_dropped_total{kind=\"trade\"} %d\n", s.DropTradeTotal)
		fmt.Fprintf(rw, "cooptrader_index_dropped_total{kind=\"snapshot\"} %d\n", s.DropSnapshotTotal)
		fmt.Fprintf(rw, "cooptrader_index_dropped_total{kind=\"wipe\"} %d\n", s.DropWipeTotal)
	}
}
