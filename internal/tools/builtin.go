package tools

import (
	"context"
	"fmt"

	"github.com/atendelabs/atende/internal/schema"
)

// DepartmentLister supplies the live department names for a tenant. The
// transfer tool cannot be declared statically because its enum of valid
// departments only exists at turn time.
type DepartmentLister interface {
	ListNames(ctx context.Context, tenantID string) ([]string, error)
}

// TransferFactory builds the "transferir" tool against the tenant's current
// department list. Tenants with no departments get no transfer tool at all.
func TransferFactory(departments DepartmentLister) Factory {
	return func(ctx context.Context, tc Context) ([]Spec, error) {
		names, err := departments.ListNames(ctx, tc.TenantID)
		if err != nil {
			return nil, fmt.Errorf("list departments: %w", err)
		}
		if len(names) == 0 {
			return nil, nil
		}

		valid := make(map[string]bool, len(names))
		for _, n := range names {
			valid[n] = true
		}

		spec := Spec{
			Name:        "transferir",
			Description: "Transfere o atendimento para a fila de um departamento humano. Use quando o cliente pedir para falar com uma pessoa ou com um setor específico.",
			Schema: schema.Object{
				Properties: map[string]schema.Schema{
					"department": schema.Enum{
						Description: "Departamento de destino",
						Values:      names,
					},
				},
			},
			Handler: func(ctx context.Context, args map[string]any, tc Context) (any, error) {
				department, _ := args["department"].(string)
				if !valid[department] {
					return nil, fmt.Errorf("departamento desconhecido: %s", department)
				}
				return Output{
					Content: map[string]any{
						"status":     "transfer_requested",
						"department": department,
					},
					Intents: []Intent{{Kind: IntentEnterQueue, Department: department}},
				}, nil
			},
		}
		return []Spec{spec}, nil
	}
}

// EndChatSpec is the static "encerrar_atendimento" tool: the model calls it
// when the customer is done and the AI thread should close.
func EndChatSpec() Spec {
	return Spec{
		Name:        "encerrar_atendimento",
		Description: "Encerra o atendimento por IA quando o cliente indicar que não precisa de mais nada.",
		Schema: schema.Object{
			Properties: map[string]schema.Schema{
				"motivo": schema.Optional{Inner: schema.String{
					Description: "Motivo do encerramento, se informado",
				}},
			},
		},
		Handler: func(ctx context.Context, args map[string]any, tc Context) (any, error) {
			reason, _ := args["motivo"].(string)
			return Output{
				Content: map[string]any{"status": "chat_ended"},
				Intents: []Intent{{Kind: IntentEndAIChat, Reason: reason}},
			}, nil
		},
	}
}
