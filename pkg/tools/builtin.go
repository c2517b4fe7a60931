package tools

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

type calculateArgs struct {
	Operation string  `json:"operation" desc:"One of add, subtract, multiply, divide"`
	A         float64 `json:"a" desc:"First operand"`
	B         float64 `json:"b" desc:"Second operand"`
}

// RegisterBuiltins adds the tools every deployment ships with.
func RegisterBuiltins(r *Registry) error {
	if err := r.RegisterFunc(
		"get_server_time",
		"Returns the current server time.",
		func(ctx context.Context, args struct{}) (string, error) {
			return time.Now().Format(time.RFC3339), nil
		},
	); err != nil {
		return err
	}

	return r.RegisterFunc(
		"calculate",
		"Performs basic arithmetic operations.",
		func(ctx context.Context, args calculateArgs) (string, error) {
			switch args.Operation {
			case "add":
				return formatNumber(args.A + args.B), nil
			case "subtract":
				return formatNumber(args.A - args.B), nil
			case "multiply":
				return formatNumber(args.A * args.B), nil
			case "divide":
				if args.B == 0 {
					return "Error: Division by zero", nil
				}
				return formatNumber(args.A / args.B), nil
			default:
				return fmt.Sprintf("Error: Unknown operation '%s'", args.Operation), nil
			}
		},
	)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
