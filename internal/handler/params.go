package handler

type RunParams struct {
	RunID string `param:"run_id"`
}

type ListRunsParams struct {
	Limit  int64 `query:"limit"`
	Offset int64 `query:"offset"`
}

type APIKeyParams struct {
	ID int64 `param:"id"`
}
