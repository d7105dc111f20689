package schema

// Operator enumerates the condition operators understood by the evaluator.
type Operator string

const (
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpContains     Operator = "contains"
	OpStartsWith   Operator = "startsWith"
	OpEndsWith     Operator = "endsWith"
	OpIsEmpty      Operator = "isEmpty"
	OpIsNotEmpty   Operator = "isNotEmpty"
	OpLengthGT     Operator = "length>"
	OpLengthLT     Operator = "length<"
	OpLengthEQ     Operator = "length=="
)

// LogicOperator joins a condition's result with the NEXT condition in the
// sequence. See conditions.Evaluate for the exact accumulator semantics.
type LogicOperator string

const (
	LogicAnd LogicOperator = "AND"
	LogicOr  LogicOperator = "OR"
)

// Condition is one field/operator/value predicate against lead-like data.
// Field is a dot path into the data; a missing path yields a nil actual
// value rather than an error.
type Condition struct {
	Field         string        `json:"field"`
	Operator      Operator      `json:"operator"`
	Value         any           `json:"value,omitempty"`
	LogicOperator LogicOperator `json:"logicOperator,omitempty"`
}
