package workflow

import (
	"fmt"
	"sort"

	"claimer/internal/locator"
)

// Role names one logical target of the checkout flow.
type Role string

const (
	RoleEmailField      Role = "email_field"
	RolePasswordField   Role = "password_field"
	RoleLoginButton     Role = "login_button"
	RolePurchaseButton  Role = "purchase_button"
	RolePromotionReveal Role = "promotion_reveal"
	RolePromotionInput  Role = "promotion_input"
	RolePromotionApply  Role = "promotion_apply"
	RoleNameField       Role = "name_field"
	RoleAddressTrigger  Role = "address_trigger"
	RoleAddressField    Role = "address_field"
	RoleCityField       Role = "city_field"
	RoleStateField      Role = "state_field"
	RoleZipField        Role = "zip_field"
	RoleSubmitButton    Role = "submit_button"
)

// Roles lists every role in workflow order.
var Roles = []Role{
	RoleEmailField, RolePasswordField, RoleLoginButton,
	RolePurchaseButton,
	RolePromotionReveal, RolePromotionInput, RolePromotionApply,
	RoleNameField, RoleAddressTrigger, RoleAddressField, RoleCityField, RoleStateField, RoleZipField,
	RoleSubmitButton,
}

// Locators maps each role to its locator chain.
type Locators map[Role]locator.Chain

// DefaultLocators returns the built-in chains for a Stripe style checkout.
func DefaultLocators() Locators {
	return Locators{
		RoleEmailField: locator.XPaths("email field",
			"//input[@type='email']",
			"//input[contains(@name, 'email')]",
			"//input[contains(@placeholder, 'email')]",
			"//input[contains(@id, 'email')]",
		),
		RolePasswordField: locator.XPaths("password field",
			"//input[@type='password']",
			"//input[contains(@name, 'password')]",
			"//input[contains(@placeholder, 'password')]",
			"//input[contains(@id, 'password')]",
		),
		RoleLoginButton: locator.XPaths("login confirm control",
			"//button[contains(text(), 'Log in')]",
			"//button[contains(text(), 'Login')]",
			"//button[contains(text(), 'Sign in')]",
			"//button[@type='submit']",
			"//input[@type='submit']",
		),
		RolePurchaseButton: locator.XPaths("purchase initiation control",
			"//button[contains(text(), 'Purchase credits')]",
			"//a[contains(text(), 'Purchase credits')]",
			"//button[contains(text(), 'purchase credits')]",
			"//a[contains(text(), 'purchase credits')]",
			"//button[contains(text(), 'Purchase Credit')]",
			"//a[contains(text(), 'Purchase Credit')]",
			"//button[contains(@class, 'purchase') or contains(@class, 'credit')]",
			"//a[contains(@class, 'purchase') or contains(@class, 'credit')]",
		),
		RolePromotionReveal: locator.XPaths("promotion code reveal control",
			"//button[contains(text(), 'Add promotion code')]",
			"//a[contains(text(), 'Add promotion code')]",
			"//span[contains(text(), 'Add promotion code')]",
			"//button[contains(text(), 'promotion code')]",
			"//a[contains(text(), 'promotion code')]",
			"//button[contains(text(), 'promo')]",
			"//a[contains(text(), 'promo')]",
			"//*[contains(@data-testid, 'promo') and not(self::input)]",
			"//div[contains(text(), 'Subtotal')]/following-sibling::*//*[contains(text(), 'Add')]",
		),
		RolePromotionInput: locator.XPaths("promotion code input",
			"//input[@id='promotionCode']",
			"//input[@name='promotionCode']",
			"//input[contains(@placeholder, 'Add promotion code')]",
			"//input[contains(@placeholder, 'promotion') or contains(@placeholder, 'promo')]",
			"//input[contains(@name, 'promotion') or contains(@name, 'promo')]",
			"//input[contains(@id, 'promotion') or contains(@id, 'promo')]",
		),
		RolePromotionApply: locator.XPaths("promotion code apply control",
			"//button[contains(text(), 'Apply')]",
			"//input[contains(@value, 'Apply')]",
		),
		RoleNameField: locator.XPaths("billing name field",
			"//input[contains(@name, 'name') or contains(@placeholder, 'name') or contains(@placeholder, 'Name')]",
			"//input[contains(@autocomplete, 'name')]",
			"//input[contains(@id, 'name')]",
		),
		RoleAddressTrigger: locator.XPaths("address entry trigger",
			"//*[contains(text(), 'Enter address to calculate')]",
		),
		RoleAddressField: locator.XPaths("billing address field",
			"//input[contains(@name, 'address') or contains(@placeholder, 'address')]",
			"//input[contains(@autocomplete, 'address')]",
			"//input[contains(@id, 'address')]",
			"//input[contains(@placeholder, 'Address')]",
			"//input[contains(@placeholder, 'Enter address manually')]",
		),
		RoleCityField: locator.XPaths("billing city field",
			"//input[contains(@name, 'city') or contains(@placeholder, 'city') or contains(@placeholder, 'City')]",
			"//input[contains(@autocomplete, 'address-level2')]",
			"//input[contains(@id, 'city')]",
		),
		RoleStateField: locator.XPaths("billing state field",
			"//input[contains(@name, 'state') or contains(@placeholder, 'state') or contains(@placeholder, 'State')]",
			"//select[contains(@name, 'state') or contains(@id, 'state')]",
			"//input[contains(@autocomplete, 'address-level1')]",
			"//input[contains(@id, 'state')]",
		),
		RoleZipField: locator.XPaths("billing zip field",
			"//input[contains(@name, 'zip') or contains(@placeholder, 'zip') or contains(@placeholder, 'Zip')]",
			"//input[contains(@name, 'postal') or contains(@placeholder, 'postal')]",
			"//input[contains(@autocomplete, 'postal-code')]",
			"//input[contains(@id, 'zip') or contains(@id, 'postal')]",
		),
		RoleSubmitButton: locator.XPaths("order submit control",
			"//button[contains(text(), 'Complete order')]",
			"//button[contains(text(), 'Complete')]",
			"//button[contains(text(), 'Pay')]",
			"//button[@type='submit']",
			"//input[@type='submit']",
		),
	}
}

// Merge returns a copy of l with the chains of override replacing whole roles.
func (l Locators) Merge(override Locators) Locators {
	out := make(Locators, len(l)+len(override))
	for role, chain := range l {
		out[role] = chain
	}
	for role, chain := range override {
		if len(chain) > 0 {
			out[role] = chain
		}
	}
	return out
}

// Validate checks that every role has at least one strategy.
func (l Locators) Validate() error {
	var missing []string
	for _, role := range Roles {
		if len(l[role]) == 0 {
			missing = append(missing, string(role))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("no locators for %v", missing)
	}
	return nil
}
