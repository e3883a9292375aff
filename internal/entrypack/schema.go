package entrypack

import "entrypack/internal/completion"

// ArrivalField is the travel-payload key carrying the RFC 3339 arrival
// timestamp. Saves to it also refresh Pack.ArrivalAt.
const ArrivalField = "arrival_at"

// DefaultSchema names the fields a pack must fill per category before it
// counts as ready. Funds is collection-scored and has no scalar fields.
func DefaultSchema() completion.Schema {
	return completion.Schema{
		completion.CategoryPassport: {
			"passport_number",
			"full_name",
			"nationality",
			"date_of_birth",
			"expiry_date",
		},
		completion.CategoryPersonal: {
			"sex",
			"occupation",
			"phone",
			"email",
			"home_address",
		},
		completion.CategoryTravel: {
			ArrivalField,
			"flight_number",
			"accommodation_name",
			"accommodation_address",
			"purpose_of_visit",
		},
	}
}
