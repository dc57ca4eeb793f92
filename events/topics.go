package events

// Exchange is the single topic exchange all services publish to and
// consume from.
const Exchange = "datarill"

// Routing keys used on the exchange.
const (
	TopicPipelineConfigCreated = "pipeline.config.created"
	TopicPipelineConfigUpdated = "pipeline.config.updated"
	TopicPipelineConfigDeleted = "pipeline.config.deleted"

	TopicPipelineExecutionSuccess = "pipeline.execution.success"
	TopicPipelineExecutionError   = "pipeline.execution.error"

	TopicDatasourceExecutionSuccess = "datasource.execution.success"
)

// TopicPipelineExecutionAll matches both execution result topics when used
// as a queue binding pattern.
const TopicPipelineExecutionAll = "pipeline.execution.*"
