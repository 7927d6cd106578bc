package flow

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/models"
)

// Canned replies.
const (
	MsgWelcome            = "Welcome! Please provide your name to register."
	MsgNameRequired       = "Please send your name to continue registration."
	MsgPasswordWeak       = "Password too weak, try again. It must be at least 6 characters and include an uppercase letter, a lowercase letter, a number, and a symbol."
	MsgAskEmail           = "Password saved. Please provide your email address."
	MsgInvalidEmail       = "Invalid email address. Please send a valid email."
	MsgCheckEmail         = "We sent a verification code to your email. Reply with the code to verify.\nReply RESEND OTP to get a new code or START OVER to restart registration."
	MsgNewCodeSent        = "A new verification code has been sent to your email."
	MsgIncorrectCode      = "Incorrect code, try again."
	MsgVerified           = "Your email is verified and your registration is complete! Send any message to see the menu."
	MsgAlreadyRegistered  = "You are already registered. The START OVER command is not valid."
	MsgNotInRegistration  = "You are not currently in registration or are already verified."
	MsgOrderStatus        = "Your order is being processed."
	MsgProductInfo        = "Our products include XYZ."
	MsgWeather            = "Today's weather: Sunny, 25°C."
	MsgSubscribed         = "You are now subscribed to daily updates."
	MsgAlreadySubscribed  = "You are already subscribed."
	MsgInvalidOption      = "Invalid option."
	MsgInvalidSelection   = "Invalid selection. Returning to the menu."
	MsgNoFAQs             = "No FAQs are available right now."
	EmailOTPSubject       = "Your OTP Code"
	CommandStartOver      = "start over"
	CommandResendOTP      = "resend otp"
	CommandGoBack         = "go back"
	dailyUpdateBodyFormat = "Hello %s, here is your daily update: Sunny, 25°C."
)

// askPassword is sent once the name is stored.
func askPassword(name string) string {
	return fmt.Sprintf("Thank you, %s! Please create a password. It must be at least 6 characters and include an uppercase letter, a lowercase letter, a number, and a symbol.", name)
}

// waitBeforeResend tells the user how long until a new code may be requested.
func waitBeforeResend(remaining time.Duration) string {
	secs := int(math.Ceil(remaining.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("Please wait %d seconds before requesting a new code.", secs)
}

// otpEmailBody is the email text carrying the code.
func otpEmailBody(code string) string {
	return fmt.Sprintf("Your OTP code is %s", code)
}

// renderMenu lists the menu options; subscribe is listed only when not subscribed.
func renderMenu(subscribed bool) string {
	var b strings.Builder
	b.WriteString("Please choose an option:\n")
	b.WriteString("1. Check Order Status\n")
	b.WriteString("2. Product Info\n")
	b.WriteString("3. Weather\n")
	b.WriteString("4. FAQ")
	if !subscribed {
		b.WriteString("\n5. Subscribe to daily updates")
	}
	b.WriteString("\nReply GO BACK at any time to return here.")
	return b.String()
}

// renderFAQList numbers the questions from 1.
func renderFAQList(entries []models.FAQEntry) string {
	var b strings.Builder
	b.WriteString("Frequently asked questions:")
	for i, e := range entries {
		fmt.Fprintf(&b, "\n%d. %s", i+1, e.Question)
	}
	b.WriteString("\nReply with a question number.")
	return b.String()
}

// renderFAQAnswer formats one question/answer pair.
func renderFAQAnswer(e models.FAQEntry) string {
	return fmt.Sprintf("Q: %s\nA: %s", e.Question, e.Answer)
}

// DailyUpdate is the scheduled message for subscribed identities.
func DailyUpdate(name string) string {
	return fmt.Sprintf(dailyUpdateBodyFormat, name)
}
