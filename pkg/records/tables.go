package records

import "fmt"

// Default table names.
const (
	TracesTable       = "LangfuseTraces"
	ScoresTable       = "LangfuseScores"
	ObservationsTable = "LangfuseObservations"
)

// Traces is the trace table layout.
func Traces(name string) Table {
	return newTable(name,
		text("id"),
		timestamp("timestamp"),
		text("name"),
		jsonField("input"),
		jsonField("output"),
		text("sessionId"),
		text("release"),
		text("version"),
		text("userId"),
		jsonField("metadata"),
		jsonField("tags"),
		boolean("public"),
		text("htmlPath"),
		number("totalCost"),
		number("latency"),
		text("projectId"),
	)
}

// Scores is the score table layout.
func Scores(name string) Table {
	return newTable(name,
		text("id"),
		text("traceId"),
		text("name"),
		number("value"),
		text("source"),
		text("observationId"),
		timestamp("timestamp"),
		text("comment"),
	)
}

// Observations is the observation table layout.
func Observations(name string) Table {
	return newTable(name,
		text("id"),
		text("traceId"),
		text("type"),
		text("name"),
		timestamp("startTime"),
		timestamp("endTime"),
		timestamp("completionStartTime"),
		text("model"),
		jsonField("modelParameters"),
		jsonField("input"),
		text("version"),
		jsonField("metadata"),
		jsonField("output"),
		jsonField("usage"),
		text("level"),
		text("statusMessage"),
		text("parentObservationId"),
		text("promptId"),
		text("modelId"),
		number("inputPrice"),
		number("outputPrice"),
		number("totalPrice"),
		number("calculatedInputCost"),
		number("calculatedOutputCost"),
		number("calculatedTotalCost"),
		number("latency"),
		number("totalToken"),
	)
}

// ForEntity returns the layout of entity stored under name; an empty name
// selects the default table.
func ForEntity(entity, name string) (Table, error) {
	switch entity {
	case "traces":
		if name == "" {
			name = TracesTable
		}
		return Traces(name), nil
	case "scores":
		if name == "" {
			name = ScoresTable
		}
		return Scores(name), nil
	case "observations":
		if name == "" {
			name = ObservationsTable
		}
		return Observations(name), nil
	default:
		return Table{}, fmt.Errorf("no table layout for entity %q", entity)
	}
}
