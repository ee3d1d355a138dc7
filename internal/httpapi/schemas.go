package httpapi

// Request body schemas for the endpoints in §6.3. Kept as literal JSON
// Schema documents so the validator's field-path output matches the wire
// shape exactly.

const createJobSchema = `{
  "type": "object",
  "required": ["kind", "prompt", "chatId", "requesterId"],
  "properties": {
    "kind": {"type": "string", "enum": ["task", "run"]},
    "prompt": {"type": "string", "minLength": 1, "maxLength": 20000},
    "channel": {"type": "string"},
    "chatId": {"type": "string", "minLength": 1},
    "threadId": {"type": "string"},
    "requesterId": {"type": "string", "minLength": 1},
    "sessionKey": {"type": "string", "maxLength": 256},
    "requiresApproval": {"type": "boolean"},
    "metadata": {"type": "object", "additionalProperties": {"type": "string"}}
  }
}`

const claimSchema = `{
  "type": "object",
  "required": ["workerId"],
  "properties": {
    "workerId": {"type": "string", "minLength": 1}
  }
}`

const postWorkerEventSchema = `{
  "type": "object",
  "required": ["event"],
  "properties": {
    "event": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {"type": "string"}
      }
    }
  }
}`

const completeJobSchema = `{
  "type": "object",
  "required": ["resultText"],
  "properties": {
    "resultText": {"type": "string"}
  }
}`

const failJobSchema = `{
  "type": "object",
  "required": ["error"],
  "properties": {
    "error": {"type": "string"}
  }
}`

const abortedJobSchema = `{
  "type": "object",
  "properties": {
    "reason": {"type": "string"}
  }
}`

const adminPauseSchema = `{
  "type": "object",
  "properties": {
    "reason": {"type": "string"}
  }
}`

const targetSchema = `{
  "type": "object",
  "required": ["kind", "chatId", "requesterId"],
  "properties": {
    "kind": {"type": "string", "enum": ["task", "run"]},
    "chatId": {"type": "string", "minLength": 1},
    "threadId": {"type": "string"},
    "requesterId": {"type": "string", "minLength": 1},
    "sessionKey": {"type": "string"},
    "requiresApproval": {"type": "boolean"},
    "metadata": {"type": "object", "additionalProperties": {"type": "string"}}
  }
}`

const deliverySchema = `{
  "type": "object",
  "properties": {
    "mode": {"type": "string", "enum": ["announce", "webhook", "none"]},
    "webhookUrl": {"type": "string"}
  }
}`

const upsertHeartbeatRuleSchema = `{
  "type": "object",
  "required": ["id", "everySeconds", "prompt", "target"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "everySeconds": {"type": "integer", "minimum": 5, "maximum": 86400},
    "prompt": {"type": "string", "minLength": 1},
    "delivery": ` + deliverySchema + `,
    "target": ` + targetSchema + `
  }
}`

const upsertCronRuleSchema = `{
  "type": "object",
  "required": ["id", "sessionTarget", "wakeMode", "prompt", "target"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "expression": {"type": "string"},
    "at": {"type": "string"},
    "everySeconds": {"type": "integer", "minimum": 1},
    "timezone": {"type": "string"},
    "sessionTarget": {"type": "string", "enum": ["main", "isolated"]},
    "wakeMode": {"type": "string", "enum": ["now", "next-heartbeat"]},
    "prompt": {"type": "string", "minLength": 1},
    "delivery": ` + deliverySchema + `,
    "target": ` + targetSchema + `
  }
}`

const ackDeliverySchema = `{
  "type": "object",
  "properties": {
    "receipt": {"type": "string"}
  }
}`

const toolInvokeSchema = `{
  "type": "object",
  "required": ["tool"],
  "properties": {
    "tool": {"type": "string", "minLength": 1},
    "arguments": {"type": "object"}
  }
}`
