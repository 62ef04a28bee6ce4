// Package logging builds the process slog logger.
//
// Components log through slog.Default().With("component", "...") and pass
// their context to the *Context methods. The handler built here adds
// item_id, plan_id, scope, sweep_id, and trace identifiers found on the
// context, and redacts approval tokens and key material.
//
//	logger, err := logging.Setup(cfg.Telemetry.Logging, os.Stderr)
//	ctx = logging.WithItemID(ctx, item.ID)
//	slog.InfoContext(ctx, "plan selected", "strategy", plan.Kind)
package logging
