package domain

// Application holds the structured rental application extracted from a
// completed dialog. Field names follow the extraction JSON contract.
type Application struct {
	Name            string `json:"name"`
	Phone           string `json:"phone"`
	ResidentsInfo   string `json:"residents_info"`
	ResidentsCount  int    `json:"residents_count"`
	HasChildren     bool   `json:"has_children"`
	ChildrenDetails string `json:"children_details"`
	HasPets         bool   `json:"has_pets"`
	PetsDetails     string `json:"pets_details"`
	RentalPeriod    string `json:"rental_period"`
	MoveInDeadline  string `json:"move_in_deadline"`
}
