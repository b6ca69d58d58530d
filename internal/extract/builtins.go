package extract

// pythonBuiltins are names resolved by the Python runtime itself. They are
// never closure members and never reported as unresolved.
var pythonBuiltins = []string{
	"abs", "all", "any", "ascii", "bin", "bool", "bytearray", "bytes",
	"callable", "chr", "classmethod", "compile", "complex", "delattr",
	"dict", "dir", "divmod", "enumerate", "eval", "exec", "filter", "float",
	"format", "frozenset", "getattr", "globals", "hasattr", "hash", "help",
	"hex", "id", "input", "int", "isinstance", "issubclass", "iter", "len",
	"list", "locals", "map", "max", "memoryview", "min", "next", "object",
	"oct", "open", "ord", "pow", "print", "property", "range", "repr",
	"reversed", "round", "set", "setattr", "slice", "sorted", "staticmethod",
	"str", "sum", "super", "tuple", "type", "vars", "zip",
	"True", "False", "None", "NotImplemented", "Ellipsis",
	"Exception", "ValueError", "TypeError", "KeyError", "IndexError",
	"AttributeError", "RuntimeError", "StopIteration", "ZeroDivisionError",
	"NotImplementedError", "ArithmeticError", "OverflowError",
	// Stdlib modules commonly referenced bare in scene files.
	"np", "math", "random", "itertools", "functools", "operator", "os",
	"sys", "copy", "deepcopy", "reduce",
}

// PythonBuiltins returns the runtime-resolved name list, for callers that
// build their own known-symbol sets.
func PythonBuiltins() []string {
	out := make([]string, len(pythonBuiltins))
	copy(out, pythonBuiltins)
	return out
}
