package checkout

import "travelbot/internal/selector"

var (
	roomCount = selector.NewTarget("room count",
		selector.CSS(`select[name*="nr_rooms"]`),
		selector.CSS(`select.hprt-nos-select`),
		selector.CSS(`[data-testid="select-room-trigger"]`),
	)
	reserveButton = selector.NewTarget("reserve",
		selector.Text(`button, a`, `i'?ll reserve`),
		selector.CSS(`[data-testid="recommended-booking-option-cta"]`),
		selector.Text(`button, a.btn`, `^\s*reserve\s*$`),
		selector.Text(`button`, `book now`),
	)

	showFields = selector.NewTarget("show fields",
		selector.Text(`button, a, [role="button"]`, `show fields`),
	)
	firstName = selector.NewTarget("first name",
		selector.CSS(`input[name="firstname"]`),
		selector.CSS(`input[autocomplete="given-name"]`),
		selector.Label(`first\s*name|given name`),
	)
	lastName = selector.NewTarget("last name",
		selector.CSS(`input[name="lastname"]`),
		selector.CSS(`input[autocomplete="family-name"]`),
		selector.Label(`last\s*name|surname|family name`),
	)
	email = selector.NewTarget("email",
		selector.CSS(`input[name="email"]`),
		selector.CSS(`input[type="email"]`),
		selector.CSS(`input[autocomplete="email"]`),
		selector.Label(`e-?mail`),
	)
	phone = selector.NewTarget("phone",
		selector.CSS(`input[name="phoneNumber"]`),
		selector.CSS(`input[type="tel"]`),
		selector.Label(`phone`),
	)
	country = selector.NewTarget("country",
		selector.CSS(`select[name="countryCode"]`),
		selector.CSS(`#countryCode`),
		selector.CSS(`select[name*="country"]`),
		selector.CSS(`[data-testid="country-select"]`),
	)
	callingCode = selector.NewTarget("calling code",
		selector.CSS(`select[name="cc1"]`),
	)

	dobInput = selector.NewTarget("date of birth",
		selector.CSS(`input[type="date"][name*="birth"]`),
		selector.CSS(`input[name*="birth"]`),
		selector.CSS(`input[name*="dob"]`),
		selector.Label(`date\s*of\s*birth|birth\s*date`),
	)
	dobDay   = selector.NewTarget("birth day", selector.CSS(`select[name*="birth_day"]`), selector.CSS(`select[name*="dob_day"]`))
	dobMonth = selector.NewTarget("birth month", selector.CSS(`select[name*="birth_month"]`), selector.CSS(`select[name*="dob_month"]`))
	dobYear  = selector.NewTarget("birth year", selector.CSS(`select[name*="birth_year"]`), selector.CSS(`select[name*="dob_year"]`))

	dobRequired = selector.NewTarget("required date of birth",
		selector.CSS(`input[required][name*="birth"]`),
		selector.CSS(`input[required][name*="dob"]`),
		selector.CSS(`select[required][name*="birth"]`),
		selector.CSS(`select[required][name*="dob"]`),
	)

	mainGuest = selector.NewTarget("main guest",
		selector.CSS(`input[name="notstayer"][value=""]`),
		selector.CSS(`input[name="notstayer"]`),
	)
	leisure = selector.NewTarget("leisure travel",
		selector.CSS(`input[name="bp_travel_purpose"][value="leisure"]`),
	)
	arrivalHour   = selector.NewTarget("arrival hour", selector.CSS(`select[name="checkin_eta_hour"]`))
	arrivalMinute = selector.NewTarget("arrival minute", selector.CSS(`select[name="checkin_eta_minute"]`))

	advanceButton = selector.NewTarget("next step",
		selector.Text(`button`, `next:\s*final details`),
		selector.CSS(`button[name="book"]`),
		selector.Text(`button`, `^\s*(next|continue)\b`),
		selector.CSS(`button[type="submit"]`),
	)

	cardSurface = selector.NewTarget("payment form",
		selector.CSS(`input[autocomplete*="cc-number"]`),
		selector.CSS(`[data-testid="payment-methods"]`),
		selector.InFrames(`input[autocomplete*="cc-number"]`, ``),
	)
	cardNumber = selector.NewTarget("card number",
		selector.Label(`card\s*number`),
		selector.CSS(`input[autocomplete="cc-number"]`),
		selector.CSS(`input[name*="cc_number"]`),
		selector.InFrames(`input[autocomplete="cc-number"], input[data-fieldtype="encryptedCardNumber"]`, `card\s*number`),
	)
	cardHolder = selector.NewTarget("cardholder",
		selector.Label(`cardholder|name on card`),
		selector.CSS(`input[autocomplete="cc-name"]`),
		selector.CSS(`input[name*="cardholder"]`),
		selector.InFrames(`input[autocomplete="cc-name"], input[data-fieldtype="holderName"]`, `cardholder|name on card`),
	)
	cardExpiry = selector.NewTarget("card expiry",
		selector.Label(`expir`),
		selector.CSS(`input[autocomplete="cc-exp"]`),
		selector.CSS(`input[name*="cc_exp"]`),
		selector.InFrames(`input[autocomplete="cc-exp"], input[data-fieldtype="encryptedExpiryDate"]`, `expir`),
	)
	cardMonth = selector.NewTarget("expiry month", selector.CSS(`select[name*="cc_month"]`), selector.CSS(`input[autocomplete="cc-exp-month"]`))
	cardYear  = selector.NewTarget("expiry year", selector.CSS(`select[name*="cc_year"]`), selector.CSS(`input[autocomplete="cc-exp-year"]`))

	cardCVC = selector.NewTarget("security code",
		selector.Label(`cvc|cvv|security\s*code`),
		selector.CSS(`input[autocomplete="cc-csc"]`),
		selector.CSS(`input[name*="cvc"]`),
		selector.InFrames(`input[autocomplete="cc-csc"], input[data-fieldtype="encryptedSecurityCode"]`, `cvc|cvv|security\s*code`),
	)

	billingPostal = selector.NewTarget("billing postcode",
		selector.CSS(`input[autocomplete="postal-code"]`),
		selector.CSS(`input[name*="postal"]`),
		selector.Label(`post\s*code|postal|zip`),
	)
	billingAddress = selector.NewTarget("billing address",
		selector.CSS(`input[autocomplete="address-line1"]`),
		selector.CSS(`input[name*="address"]`),
		selector.Label(`^\s*address`),
	)
	billingCity = selector.NewTarget("billing city",
		selector.CSS(`input[autocomplete="address-level2"]`),
		selector.CSS(`input[name*="city"]`),
		selector.Label(`city|town`),
	)
	billingState = selector.NewTarget("billing state",
		selector.CSS(`input[autocomplete="address-level1"]`),
		selector.CSS(`input[name*="state"]`),
		selector.Label(`state|province|region`),
	)
	billingCountry = selector.NewTarget("billing country",
		selector.CSS(`select[autocomplete="country"]`),
		selector.CSS(`select[name*="billing_country"]`),
	)
	consentBox = selector.NewTarget("consent",
		selector.CSS(`input[type="checkbox"][required]`),
		selector.Label(`i agree|terms|consent`),
	)

	finalButton = selector.NewTarget("complete booking",
		selector.Text(`button`, `complete booking|book with commitment to pay|confirm booking`),
		selector.CSS(`[data-testid="bp-submit-button"]`),
		selector.CSS(`button[name="book"]`),
		selector.Text(`button`, `book now|pay now`),
	)
)
