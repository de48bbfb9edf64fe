package classifier

// instruction is sent with every document alongside the response schema.
const instruction = "About the invoice in the following file, check carefully, and create an object that parses the invoice, " +
	"pointing out the detailed improvement points in the invoice. Confirm by calculating 3 times whether the total amount " +
	"of the invoice is correct. Furthermore, confirm whether the name, address, phone number, and the required fields " +
	"are written in the invoice."

// responseSchema constrains the model output to a check block and a parse block.
var responseSchema = map[string]any{
	"type": "OBJECT",
	"properties": map[string]any{
		"check": map[string]any{
			"type":        "OBJECT",
			"description": "Point out the improvement points in the invoice. Return the detailed improvement points like details of invalid, insufficient, wrong, and miscalculated parts. Ignore the calculation of tax.",
			"properties": map[string]any{
				"invoice": map[string]any{
					"type":        "BOOLEAN",
					"description": "If the file is an invoice, it's true. If the file is not an invoice, it's false.",
				},
				"invalidCheck": map[string]any{
					"type":        "BOOLEAN",
					"description": "When no issue was found, this should be false. When invalid, insufficient, wrong, or miscalculated points were found, this should be true.",
				},
				"invalidPoints": map[string]any{
					"type":        "STRING",
					"description": "Details of invalid, insufficient, wrong, and miscalculated points of the invoice. When no issue was found, this should be no value.",
				},
			},
			"required": []string{"invoice", "invalidCheck"},
		},
		"parse": map[string]any{
			"type":        "OBJECT",
			"description": "Create an object parsed from the invoice.",
			"properties": map[string]any{
				"name":                      stringField("Name given as 'Filename'"),
				"invoiceTitle":              stringField("Title of invoice"),
				"invoiceDate":               stringField("Date of invoice"),
				"invoiceNumber":             stringField("Number of the invoice"),
				"invoiceDestinationName":    stringField("Name of destination of invoice"),
				"invoiceDestinationAddress": stringField("Address of the destination of invoice"),
				"totalCost":                 stringField("Total cost of all costs"),
				"table": map[string]any{
					"type":        "ARRAY",
					"description": "Table of the invoice as a 2-dimensional array. The first row is the header row. Columns are 'title or description of item', 'number of items', 'unit cost', 'total cost'.",
					"items": map[string]any{
						"type":  "ARRAY",
						"items": map[string]any{"type": "STRING"},
					},
				},
			},
			"required": []string{
				"name", "invoiceTitle", "invoiceDate", "invoiceNumber",
				"invoiceDestinationName", "invoiceDestinationAddress", "totalCost", "table",
			},
		},
	},
	"required": []string{"check", "parse"},
}

func stringField(description string) map[string]any {
	return map[string]any{"type": "STRING", "description": description}
}
